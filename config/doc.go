// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the watcher configuration: listen
// address, poll and probation intervals, the static host/server inventory,
// the history store backend and the notification channels.
package config
