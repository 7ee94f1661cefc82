package script

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_PassesThroughInputField(t *testing.T) {
	e := New()
	out, err := e.Run(context.Background(), `output = {greeting = input.name}`, json.RawMessage(`{"name":"world"}`))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "world", decoded["greeting"])
}

func TestRun_CountTokensBuiltin(t *testing.T) {
	e := New()
	out, err := e.Run(context.Background(), `output = {n = count_tokens(input.text)}`, json.RawMessage(`{"text":"hello world"}`))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Greater(t, decoded["n"], float64(0))
}

func TestRun_ArrayRoundTrip(t *testing.T) {
	e := New()
	out, err := e.Run(context.Background(), `
		output = {}
		for i, v in ipairs(input) do
			output[i] = v * 2
		end
	`, json.RawMessage(`[1,2,3]`))
	require.NoError(t, err)

	var decoded []float64
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, []float64{2, 4, 6}, decoded)
}

func TestRun_ScriptErrorWrapsTransformFailed(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), `error("boom")`, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script transform failed")
}

func TestRun_NoIOLibraryAvailable(t *testing.T) {
	e := New()
	_, err := e.Run(context.Background(), `io.open("/etc/passwd")`, json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestRun_RespectsContextDeadline(t *testing.T) {
	e := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Run(ctx, `while true do end`, json.RawMessage(`{}`))
	require.Error(t, err)
}
