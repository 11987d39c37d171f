package portalloc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReturnsUsablePort(t *testing.T) {
	port, err := Allocate()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.LessOrEqual(t, port, 65535)
}

func TestTransformCommandNoPlaceholder(t *testing.T) {
	cmd, env, err := TransformCommand("npm run dev")
	require.NoError(t, err)
	assert.Equal(t, "npm run dev", cmd)
	assert.Empty(t, env)
}

func TestTransformCommandSubstitutesPort(t *testing.T) {
	cmd, env, err := TransformCommand("npm run dev -- --port $PORT")
	require.NoError(t, err)
	port, ok := env["PORT"]
	require.True(t, ok, "expected PORT in env, got %v", env)
	assert.Contains(t, cmd, port)
	assert.NotContains(t, cmd, "$PORT")
}

func TestTransformCommandBracedAndNamed(t *testing.T) {
	cmd, env, err := TransformCommand("vite --port ${API_PORT} --other $API_PORT")
	require.NoError(t, err)
	port, ok := env["API_PORT"]
	require.True(t, ok, "expected API_PORT in env, got %v", env)
	assert.NotContains(t, cmd, "PORT}")
	assert.NotContains(t, cmd, "$API_PORT")
	assert.Equal(t, 2, strings.Count(cmd, port))
}

func TestTransformCommandSharesPortAcrossOccurrences(t *testing.T) {
	cmd, env, err := TransformCommand("$PORT and $PORT again")
	require.NoError(t, err)
	port := env["PORT"]
	assert.Equal(t, 2, strings.Count(cmd, port))
}
