package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexusid/eventstore/pkg/logging"
)

func TestNoOpDiscardsEveryCallWithoutPanicking(t *testing.T) {
	l := logging.NoOp()
	assert.NotPanics(t, func() {
		l.Debug("debug", "k", "v")
		l.Info("info")
		l.Error("error", "err", "boom")
	})
}

func TestSlogAdapterWritesThroughToTheUnderlyingLogger(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := logging.Slog(slog.New(handler))

	l.Info("hello", "k", "v")

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestSlogWithNilLoggerFallsBackToDefault(t *testing.T) {
	assert.NotPanics(t, func() {
		logging.Slog(nil).Info("still works")
	})
}

func TestInfoContextLogsThroughSlogLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := logging.Slog(slog.New(handler))

	logging.InfoContext(context.Background(), l, "ctx message")

	assert.Contains(t, buf.String(), "ctx message")
}

func TestInfoContextFallsBackForNonSlogLoggers(t *testing.T) {
	l := logging.NoOp()
	assert.NotPanics(t, func() {
		logging.InfoContext(context.Background(), l, "message")
	})
}
