package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		entries = append(entries, e)
	}
	return entries
}

func TestLogger_WritesFlattenedEntries(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelInfo})
	l.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	l.With(Component("http")).WithRequestID("req-1").Warn("http request",
		Status(404),
		Latency(1500*time.Microsecond),
		Err(nil),
		String("msg", "ignored"),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "warn", e["level"])
	assert.Equal(t, "http request", e["msg"])
	assert.Equal(t, "2024-06-01T12:00:00Z", e["ts"])
	assert.Equal(t, "http", e["component"])
	assert.Equal(t, "req-1", e["request_id"])
	assert.EqualValues(t, 404, e["status"])
	assert.EqualValues(t, 1.5, e["latency_ms"])
	assert.NotContains(t, e, "error")
	assert.NotContains(t, e, "caller")
}

func TestLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf, Level: LevelWarn})

	l.Debug("dropped")
	l.Info("dropped")
	l.Error("kept", Err(errors.New("boom")))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0]["error"])
}

func TestLogger_CallerPointsAtCallSite(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Output: &buf, AddCaller: true}).Info("hello")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0]["caller"], "logger_test.go:")
}

func TestLogger_DerivedLoggersShareOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New(Options{Output: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			root.With(Int("n", i)).Info("line")
		}(i)
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 20)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"Warn":    LevelWarn,
		"error":   LevelError,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "unknown", Level(42).String())
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Output: &buf})

	assert.Same(t, l, FromContext(WithContext(context.Background(), l)))
	assert.NotNil(t, FromContext(context.Background()))
}
