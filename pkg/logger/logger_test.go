package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoCF_WritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetJSON(true)
	SetLevel(INFO)
	t.Cleanup(func() {
		base = newBase()
	})

	InfoCF("memory", "summarized", map[string]interface{}{"session_id": "s1", "facts": 3})

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "memory", got["component"])
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "summarized", got["msg"])
}

func TestSetLevel_SuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(WARN)
	t.Cleanup(func() {
		base = newBase()
	})

	DebugC("memory", "hidden")
	InfoC("memory", "hidden too")
	assert.Empty(t, buf.String())

	WarnC("memory", "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel(" Debug "))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}
