package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "***34", RedactPhone("+1 (415) 555-0134"))
	assert.Equal(t, "***", RedactPhone("7"))
}

func TestNamedLoggerRedactsFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Named("dispatcher").Info("sent", "contact", "+1 415 555 0134", "note", "reply to owner@plumbing.test")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatcher", entry["component"])
	assert.Equal(t, "***34", entry["contact"])
	assert.Equal(t, "reply to ow***@plumbing.test", entry["note"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(WARN)
	defer SetLevel(INFO)

	Info("dropped")
	assert.Zero(t, buf.Len())
	Warn("kept")
	assert.NotZero(t, buf.Len())
	assert.Equal(t, ERROR, ParseLevel("error"))
}
