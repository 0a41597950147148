package tools

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryToolRegistry_ListAndInvoke(t *testing.T) {
	r := NewInMemoryToolRegistry()
	require.NoError(t, RegisterBuiltins(r))

	descriptors, err := r.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "echo", descriptors[0].Name)
	assert.Equal(t, []string{"text"}, descriptors[0].RequiredArguments)
	assert.Equal(t, "get_time", descriptors[1].Name)
	assert.Empty(t, descriptors[1].RequiredArguments)

	out, err := r.InvokeTool(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = r.InvokeTool(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestGetTime_UsesClockAndTimezone(t *testing.T) {
	saved := clock
	defer func() { clock = saved }()
	clock = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	r := NewInMemoryToolRegistry()
	require.NoError(t, RegisterBuiltins(r))

	out, err := r.InvokeTool(context.Background(), "get_time", map[string]interface{}{"timezone": "UTC"})
	require.NoError(t, err)
	assert.Equal(t, GetTimeOutput{Time: "2024-03-01T12:00:00Z", Timezone: "UTC"}, out)

	_, err = r.InvokeTool(context.Background(), "get_time", map[string]interface{}{"timezone": "Not/AZone"})
	assert.Error(t, err)
}

func TestInMemoryToolRegistry_CloneMergeUnregister(t *testing.T) {
	a := NewInMemoryToolRegistry()
	require.NoError(t, a.RegisterFunc("one", "", func(in EchoInput) string { return "a" }))
	b := NewInMemoryToolRegistry()
	require.NoError(t, b.RegisterFunc("one", "", func(in EchoInput) string { return "b" }))
	require.NoError(t, b.RegisterFunc("two", "", func(in EchoInput) string { return "two" }))

	merged := a.Merge(b)
	assert.Equal(t, 2, merged.Count())
	out, err := merged.InvokeTool(context.Background(), "one", map[string]interface{}{"text": ""})
	require.NoError(t, err)
	assert.Equal(t, "b", out)

	clone := a.Clone()
	require.NoError(t, clone.UnregisterTool("one"))
	assert.Equal(t, 0, clone.Count())
	assert.Equal(t, 1, a.Count())
	assert.Error(t, clone.UnregisterTool("one"))

	assert.Error(t, a.RegisterTool(ToolDefinition{}))
}
