package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", ProjectID(ctx))
	assert.Equal(t, "", NodeID(ctx))
	assert.Equal(t, "", Op(ctx))

	// Set values.
	ctx = WithProjectID(ctx, "p-123")
	ctx = WithNodeID(ctx, "n1_intro")
	ctx = WithOp(ctx, "update_node")

	// Round-trip.
	assert.Equal(t, "p-123", ProjectID(ctx))
	assert.Equal(t, "n1_intro", NodeID(ctx))
	assert.Equal(t, "update_node", Op(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithProjectID(ctx, "p-abc")
	ctx = WithNodeID(ctx, "n2_body")
	ctx = WithOp(ctx, "split")

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "project_id=p-abc")
	assert.Contains(t, output, "node_id=n2_body")
	assert.Contains(t, output, "op=split")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only set project ID — node and op should not appear.
	ctx := WithProjectID(context.Background(), "p-only")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "project_id=p-only")
	assert.NotContains(t, output, "node_id")
	assert.NotContains(t, output, "op=")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// No correlation values — no extra attrs.
	enriched := LogWith(context.Background(), logger)
	enriched.Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "project_id")
	assert.NotContains(t, output, "node_id")
	assert.NotContains(t, output, "op=")
	assert.Contains(t, output, "no context")
}

func TestWithIDs(t *testing.T) {
	ctx := WithIDs(context.Background(), "p-1", "n1_a", "clone")
	assert.Equal(t, "p-1", ProjectID(ctx))
	assert.Equal(t, "n1_a", NodeID(ctx))
	assert.Equal(t, "clone", Op(ctx))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithIDs(context.Background(), "p-auto", "n3_auto", "import")
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"project_id":"p-auto"`)
	assert.Contains(t, output, `"node_id":"n3_auto"`)
	assert.Contains(t, output, `"op":"import"`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "project_id")
	assert.NotContains(t, output, "node_id")
	assert.NotContains(t, output, `"op"`)
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerPartialContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithProjectID(context.Background(), "p-only")
	logger.InfoContext(ctx, "partial")

	output := buf.String()
	assert.Contains(t, output, `"project_id":"p-only"`)
	assert.NotContains(t, output, "node_id")
	assert.NotContains(t, output, `"op"`)
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "store")}))

	ctx := WithProjectID(context.Background(), "p-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"project_id":"p-attr"`)
	assert.Contains(t, output, `"component":"store"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithGroup("store"))

	ctx := WithProjectID(context.Background(), "p-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "p-grp")
	assert.Contains(t, output, "grouped")
}
