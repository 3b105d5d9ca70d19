package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manawiki/sitepulse/pkg/observability"
)

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{logger: observability.NewLogger(observability.DebugLevel, &buf)}

	l.Error(errors.New("boom"), "panic", "stack", "trace")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "panic", entry["message"])
	assert.Equal(t, "error", entry["level"])
}

func TestFields_OddLengthIgnoresTrailingKey(t *testing.T) {
	got := fields([]interface{}{"now", 1, "dangling"})
	assert.Equal(t, map[string]interface{}{"now": 1}, got)
}
