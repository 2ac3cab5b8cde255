package ctxlog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestFromContext_DefaultsToSlogDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), bufferLogger(&buf).With("request_id", "req-1"))

	ctx, logger := With(ctx, "incident_id", "INC-1")
	assert.Same(t, logger, FromContext(ctx))

	FromContext(ctx).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "INC-1", line["incident_id"])
}

func TestInherit(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf)
	parent, cancel := context.WithCancel(WithLogger(context.Background(), logger))
	cancel()

	ctx := Inherit(context.Background(), parent)
	assert.Same(t, logger, FromContext(ctx))
	assert.NoError(t, ctx.Err())

	plain := context.Background()
	assert.Equal(t, plain, Inherit(plain, context.Background()))
}
