// Package models defines the data shared by the watcher's components: the
// fleet inventory (hosts and servers), the samples produced by probing them,
// the per-server health state, and the notification events derived from it.
package models
