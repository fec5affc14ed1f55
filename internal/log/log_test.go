package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/CZERTAINLY/checkpar/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(context.Background(), slog.String("run_id", "r1"))
	child := log.ContextAttrs(ctx, slog.String("target", "h1"))
	logger.InfoContext(child, "checked")
	logger.DebugContext(child, "hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "checked", rec["msg"])
	require.Equal(t, "r1", rec["run_id"])
	require.Equal(t, "h1", rec["target"])

	t.Run("parent not modified", func(t *testing.T) {
		buf.Reset()
		logger.InfoContext(ctx, "parent")
		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		require.NotContains(t, rec, "target")
	})

	t.Run("verbose", func(t *testing.T) {
		var buf bytes.Buffer
		log.New(&buf, true).With("k", "v").DebugContext(child, "shown")
		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		require.Equal(t, "v", rec["k"])
		require.Equal(t, "h1", rec["target"])
	})
}
