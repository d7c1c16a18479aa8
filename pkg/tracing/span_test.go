package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansInheritTraceID(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "rebuild", "run-1")
	_, child := StartChildSpan(ctx, "FetchingSource")
	child.End()
	root.End()

	require.Len(t, root.Children, 1)
	assert.Equal(t, "run-1", root.Children[0].TraceID)
	assert.Same(t, root, SpanFromContext(ctx))
}

func TestLogIncludesFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, root := StartSpan(context.Background(), "rebuild", "run-2")
	_, child := StartChildSpan(ctx, "SwappingAlias")
	child.Fail(errors.New("alias swap failed"))
	child.End()
	root.End()
	root.Log(logger)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "span=SwappingAlias")
	assert.Contains(t, lines[1], "level=WARN")
	assert.Contains(t, lines[1], "depth=1")
}

func TestDetachedChildSpan(t *testing.T) {
	_, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.GreaterOrEqual(t, span.End(), time.Duration(0))
}
