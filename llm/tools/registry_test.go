package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/types"
)

func TestDefaultRegistry_RegisterAndGet(t *testing.T) {
	reg := NewDefaultRegistry(zap.NewNop())

	require.NoError(t, reg.Register("b_tool", echo, ToolMetadata{}))
	require.NoError(t, reg.Register("a_tool", echo, ToolMetadata{Schema: types.ToolSchema{Description: "first"}}))

	_, meta, err := reg.Get("b_tool")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, meta.Timeout)
	assert.Equal(t, "b_tool", meta.Schema.Name)

	assert.True(t, reg.Has("a_tool"))
	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a_tool", list[0].Name)

	assert.Equal(t, []types.ToolSchema{list[1]}, reg.Schemas("b_tool", "unknown"))

	_, _, err = reg.Get("nope")
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestDefaultRegistry_RegisterErrors(t *testing.T) {
	reg := NewDefaultRegistry(nil)

	require.NoError(t, reg.Register("t", echo, ToolMetadata{}))
	assert.Error(t, reg.Register("t", echo, ToolMetadata{}), "duplicate")
	assert.Error(t, reg.Register("x", nil, ToolMetadata{}), "nil handler")
	assert.Error(t, reg.Register("y", echo, ToolMetadata{Schema: types.ToolSchema{Name: "z"}}), "name mismatch")
	assert.Error(t, reg.Register("w", echo, ToolMetadata{
		Schema: types.ToolSchema{Parameters: json.RawMessage(`{"type": 12}`)},
	}), "invalid schema")
}

func TestDefaultRegistry_Unregister(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	require.NoError(t, reg.Register("t", echo, ToolMetadata{RateLimit: &RateLimitConfig{MaxCalls: 1, Window: 1}}))
	require.NoError(t, reg.Unregister("t"))
	assert.False(t, reg.Has("t"))
	assert.NoError(t, reg.Allow("t"))
	assert.True(t, errors.Is(reg.Unregister("t"), ErrToolNotFound))
}

func TestDefaultRegistry_Validate(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	require.NoError(t, reg.Register("query", echo, ToolMetadata{
		Schema: types.ToolSchema{Parameters: json.RawMessage(querySchema)},
	}))
	require.NoError(t, reg.Register("free", echo, ToolMetadata{}))

	assert.NoError(t, reg.Validate("query", json.RawMessage(`{"days":30,"min_loss":500}`)))
	assert.NoError(t, reg.Validate("query", nil))

	err := reg.Validate("query", json.RawMessage(`{"min_loss":"lots"}`))
	assert.True(t, types.IsCode(err, types.ErrToolExecutionFailed))

	err = reg.Validate("free", json.RawMessage(`{oops`))
	assert.True(t, types.IsCode(err, types.ErrToolExecutionFailed))
	assert.NoError(t, reg.Validate("free", json.RawMessage(`[1,2]`)))
}
