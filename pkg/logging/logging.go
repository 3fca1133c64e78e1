// Package logging provides the structured logger every other component
// in this module accepts through a minimal Printf-style interface,
// backed by zap exactly as the teacher's dependency graph already pulls
// it in (transitively through libp2p) and as the zap wrapper pattern
// shown by the rest of the example pack
// (knirvcorp-knirvbase/go/internal/logging).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal logging capability the repo engine and its
// collaborators depend on. Any implementation satisfying it (including a
// caller-supplied no-op) is admissible; this package ships the default
// one used outside of tests.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Zap wraps a *zap.SugaredLogger as a Logger, adding a couple of
// structured helpers for call sites that want fields instead of a
// format string.
type Zap struct {
	*zap.SugaredLogger
}

// New builds a Zap logger at the given level ("debug", "info", "warn",
// "error") in the given encoding ("json" or "console").
func New(level, encoding string) (*Zap, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Zap{SugaredLogger: l.Sugar()}, nil
}

// Printf satisfies Logger by routing through zap's formatted logging at
// info level; callers that care about level should use the embedded
// *zap.SugaredLogger directly instead.
func (z *Zap) Printf(format string, args ...interface{}) {
	z.Infof(format, args...)
}

// WithPeer returns a child logger tagged with a remote repo id, mirroring
// the WithBlockID/WithUserID helpers in the example pack's zap wrapper.
func (z *Zap) WithPeer(peerID string) *zap.SugaredLogger {
	return z.With("peer_id", peerID)
}

// WithDocument returns a child logger tagged with a document id.
func (z *Zap) WithDocument(docID string) *zap.SugaredLogger {
	return z.With("document_id", docID)
}

// Noop discards everything; it satisfies Logger wherever one is
// required.
type Noop struct{}

func (Noop) Printf(string, ...interface{}) {}
