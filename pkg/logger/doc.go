// Package logger builds the structured slog logger shared by every component.
// Production environments log JSON, everything else logs human-readable text.
package logger
