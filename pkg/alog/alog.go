// Package alog defines the logging surface used throughout this module. The
// interface is deliberately small so callers can supply their own
// implementation (for testing, or for a redaction policy stricter than the
// default) without pulling in a specific logging backend.
package alog

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
)

const redactedPlaceholder = "[redacted]"

// Logger is the subset of structured-logging functionality this module
// depends on.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}

// New returns a Logger backed by the given slog.Logger. Passing nil binds to
// slog.Default().
func New(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l *slogLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l *slogLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l *slogLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

// Redacted marks an attribute as intentionally withheld from logs. Callers
// must never pass raw key material, seeds, or shared secrets to a logger;
// this attribute is the documented way to note that a value existed without
// emitting it.
func Redacted(key string) slog.Attr {
	return slog.String(key, redactedPlaceholder)
}

// Placeholder returns the canonical string substituted for redacted values.
func Placeholder() string {
	return redactedPlaceholder
}

// deviceIDFingerprintLen is how much of a 32-byte device ID is rendered by
// DeviceID. A device ID is not secret key material, but logging it in full
// on every line makes logs trivially greppable into a per-device trail;
// truncating to a fingerprint keeps correlation useful without making log
// output itself a second copy of the identifier.
const deviceIDFingerprintLen = 8

// DeviceID renders a device ID as a short hex fingerprint suitable for log
// correlation, without emitting the full 32-byte identifier.
func DeviceID(id [32]byte) slog.Attr {
	return slog.String("device_id", hex.EncodeToString(id[:deviceIDFingerprintLen]))
}

// PCRValue renders a single PCR register's current chained digest. PCR
// values are measurement digests, not secrets, so they are logged in full,
// unlike Redacted, which exists for key material and shared secrets.
func PCRValue(index int, value [32]byte) slog.Attr {
	return slog.String(fmt.Sprintf("pcr_%d", index), hex.EncodeToString(value[:]))
}
