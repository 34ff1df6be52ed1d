package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEarlyLog_WritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := &EarlyLog{service: "config-service", out: &buf}

	l.Error("Failed to load config: %v", "missing file")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "Failed to load config: missing file", entry["message"])
	assert.Equal(t, "config-service", entry["service_name"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestGetLogFields_OmitsEmptyValues(t *testing.T) {
	ctx := WithTraceID(WithActor(context.Background(), "alice"), "trace-1")

	assert.Equal(t, []interface{}{"trace_id", "trace-1", "actor", "alice"}, GetLogFields(ctx))
	assert.Empty(t, GetLogFields(context.Background()))
}
