package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveToolCallMarkers_InlineCall(t *testing.T) {
	text := `Let me check. {"tool_call": {"name": "get_time", "arguments": {}}} One moment.`

	assert.Equal(t, "Let me check.  One moment.", RemoveToolCallMarkers(text))
}

func TestRemoveToolCallMarkers_RemovesEmptiedFence(t *testing.T) {
	text := "Let me check the time.\n\n```json\n" +
		`{"tool_call": {"name": "get_time", "arguments": {}}}` +
		"\n```\n\nI will report back."

	out := RemoveToolCallMarkers(text)
	assert.Equal(t, "Let me check the time.\n\nI will report back.", out)
	assert.NotContains(t, out, "```")
}

func TestRemoveToolCallMarkers_KeepsFenceWithOtherContent(t *testing.T) {
	text := "Example:\n\n```json\n" +
		`{"note": "kept"}` + "\n" +
		`{"tool_call": {"name": "get_time", "arguments": {}}}` +
		"\n```\n"

	out := RemoveToolCallMarkers(text)
	assert.Contains(t, out, "```json")
	assert.Contains(t, out, `{"note": "kept"}`)
	assert.NotContains(t, out, "tool_call")
}

func TestRemoveToolCallMarkers_NoCalls(t *testing.T) {
	text := "Nothing to do here.\n\n\n\nReally."
	assert.Equal(t, text, RemoveToolCallMarkers(text))
}

func TestFormatResults(t *testing.T) {
	calls := validatedCalls(t, "get_time", "weather")
	results := []ToolExecutionResult{
		{Call: calls[0], Output: "12:00", Succeeded: true},
		{Call: calls[1], Err: errors.New("no network"), Duration: 1500 * time.Millisecond},
	}

	out := FormatResults(results)
	parts := strings.Split(out, "\n\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "**get_time** succeeded\n12:00", parts[0])
	assert.Equal(t, "**weather** failed (1.5s)\nno network", parts[1])
}

func TestSynthesizeResponse(t *testing.T) {
	e := NewExtractor()
	registry := NewInMemoryToolRegistry()
	require.NoError(t, registry.RegisterFunc("echo", "", func(in EchoInput) string { return in.Text }))

	response := `Sure. {"tool_call": {"name": "echo", "arguments": {"text": "hello"}}}`
	validated := ValidateAndDeduplicate(e.Extract(response), mustSnapshot(t, registry))
	results := ExecuteAll(context.Background(), validated, registry)

	assert.Equal(t, "Sure.\n\n**echo** succeeded\nhello", e.SynthesizeResponse(response, results))

	bare := `{"tool_call": {"name": "echo", "arguments": {"text": "hello"}}}`
	assert.Equal(t, "Executed echo:\n\nhello", e.SynthesizeResponse(bare, results))

	assert.Equal(t, "Just text.", e.SynthesizeResponse(" Just text. ", nil))
}

func mustSnapshot(t *testing.T, source ToolSource) *Snapshot {
	t.Helper()
	s, err := TakeSnapshot(context.Background(), source)
	require.NoError(t, err)
	return s
}
