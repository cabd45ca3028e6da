// Package logx is a small zerolog wrapper with live-reconfigurable sinks.
//
// It exposes a value-type Logger whose output and level can be swapped at
// runtime through the owning Service (config hot reload), plus slog-like
// Field helpers for structured context.
package logx
