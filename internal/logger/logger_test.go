package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestFromCarriesCorrelationIDs(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "debug")

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithTraceID(ctx, "trace-1")
	From(ctx).Info("Step finished")

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "trace-1")
	assert.Equal(t, "", GetSessionID(ctx))
}
