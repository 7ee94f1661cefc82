package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// respondingScript is a tiny subprocess that answers whatever JSON-RPC id it
// receives with a fixed tools/list result, proving the stdio framing round-trips.
const respondingScript = `
read line
id=$(echo "$line" | sed -E 's/.*"id":([0-9]+).*/\1/')
printf '{"jsonrpc":"2.0","result":{"tools":[{"name":"echo_tool","description":"echoes input","input_schema":{}}]},"id":%s}\n' "$id"
`

func TestStdioClient_ListTools_RoundTrips(t *testing.T) {
	client, err := Spawn("sh", "-c", respondingScript)
	require.NoError(t, err)
	defer client.Close()

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo_tool", tools[0].Name)
}

const errorScript = `
read line
printf '{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"},"id":1}\n'
`

func TestStdioClient_CallTool_PropagatesRPCError(t *testing.T) {
	client, err := Spawn("sh", "-c", errorScript)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.CallTool(context.Background(), "missing_tool", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestStdioClient_RequestIDsIncrementAcrossCalls(t *testing.T) {
	script := `
i=0
while read line; do
  i=$((i+1))
  printf '{"jsonrpc":"2.0","result":{"tools":[]},"id":%d}\n' "$i"
done
`
	client, err := Spawn("sh", "-c", script)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.ListTools(context.Background())
	require.NoError(t, err)
	_, err = client.ListTools(context.Background())
	require.NoError(t, err)
}
