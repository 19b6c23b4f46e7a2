// Package inventory holds the fixed set of hosts and servers the watcher
// probes. It is built once at startup, either from the static configuration
// or from a one-time read of the Consul catalog, and is read-only afterwards.
package inventory
