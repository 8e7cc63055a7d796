package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function to restore original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false // Disable colors for easier testing
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestSetLevel(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("WARN")
	defer SetLevel("INFO")

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestSetLevel_InvalidIgnored(t *testing.T) {
	SetLevel("INFO")
	SetLevel("bogus")

	if got := Level(currentLevel.Load()); got != LevelInfo {
		t.Errorf("expected level INFO after invalid SetLevel, got %s", got)
	}
}

func TestStructuredFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	Info("participant joined", KeySessionID, "abc-123", KeyUserID, "u-1")

	out := buf.String()
	assert.Contains(t, out, "participant joined")
	assert.Contains(t, out, "session_id=abc-123")
	assert.Contains(t, out, "user_id=u-1")
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	defer SetFormat("text")

	Info("fan-out complete", KeyCount, 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "fan-out complete", record["msg"])
	assert.Equal(t, float64(3), record["count"])
}

func TestContextFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	lc := NewLogContext("10.0.0.7")
	lc.SessionID = "sess-1"
	lc.UserID = "user-9"
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "location update accepted")

	out := buf.String()
	assert.Contains(t, out, "session_id=sess-1")
	assert.Contains(t, out, "user_id=user-9")
	assert.Contains(t, out, "client_ip=10.0.0.7")
}

func TestContextFields_NilContext(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	InfoCtx(context.Background(), "no log context attached")

	assert.Contains(t, buf.String(), "no log context attached")
}

func TestLogContextClone(t *testing.T) {
	lc := &LogContext{SessionID: "s", UserID: "u", ClientIP: "ip"}
	clone := lc.Clone()

	require.NotSame(t, lc, clone)
	assert.Equal(t, lc.SessionID, clone.SessionID)
	assert.Equal(t, lc.UserID, clone.UserID)

	var nilCtx *LogContext
	assert.Nil(t, nilCtx.Clone())
}

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				Info("concurrent line", KeyCount, j)
			}
		}()
	}
	wg.Wait()

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 16*25, lines)
}
