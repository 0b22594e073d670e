// Package logx is a thin structured logging layer over zerolog.
//
// It exposes a small Logger value with slog-like Field helpers and a Service
// that owns the sink configuration (console, file, Telegram operator alerts)
// and can swap it at runtime via Apply(). Loggers derived from a Service stay
// live across Apply() calls.
package logx
