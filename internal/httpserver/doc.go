// Package httpserver runs the read API with a validated listen address and
// graceful shutdown.
package httpserver
