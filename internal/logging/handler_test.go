package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandler_LiftsContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := ContextWithBackend(context.Background(), "carrier-a")
	ctx = ContextWithPDUInfo(ctx, "submit_sm_resp", 42)
	ctx = ContextWithMTMessageID(ctx, 7)
	ctx = ContextWithRemoteMsgID(ctx, "abc123")

	logger.With(slog.String("component", "session")).InfoContext(ctx, "Ack recorded")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Ack recorded", entry["msg"])
	assert.Equal(t, "carrier-a", entry["backend"])
	assert.Equal(t, "submit_sm_resp", entry["cmd_id"])
	assert.EqualValues(t, 42, entry["seq_num"])
	assert.EqualValues(t, 7, entry["mt_id"])
	assert.Equal(t, "abc123", entry["remote_msg_id"])
	assert.Equal(t, "session", entry["component"])
}

func TestContextHandler_NoValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))
	logger.InfoContext(context.Background(), "plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "backend")
	assert.NotContains(t, entry, "seq_num")
}

func TestSetupWriter_Level(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "warn")
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
