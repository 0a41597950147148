package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callNames(calls []RawToolCall) []string {
	var ret []string
	for _, c := range calls {
		ret = append(ret, c.Name)
	}
	return ret
}

func TestExtract_SingleCallInProse(t *testing.T) {
	text := `Checking... {"tool_call":{"name":"get_time","arguments":{}}} done`

	calls := Extract(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "get_time", calls[0].Name)
	assert.Equal(t, map[string]interface{}{}, calls[0].Arguments)
	assert.Equal(t, `{"tool_call":{"name":"get_time","arguments":{}}}`, text[calls[0].Start:calls[0].End])
}

func TestExtract_PreservesSourceOrder(t *testing.T) {
	text := `First I will look up the weather.
{"tool_call": {"name": "weather", "arguments": {"city": "Paris"}}}
Then the time, and finally an echo:
` + "```json\n" + `{"tool_call": {"name": "get_time", "arguments": {}}}
` + "```\n" + `and {"tool_call": {"name": "echo", "arguments": {"text": "hi"}}}.`

	calls := Extract(text)
	assert.Equal(t, []string{"weather", "get_time", "echo"}, callNames(calls))
	assert.Equal(t, "Paris", calls[0].Arguments["city"])
	assert.Equal(t, "hi", calls[2].Arguments["text"])
}

func TestExtract_NestedArgumentsExtractedWhole(t *testing.T) {
	text := `{"tool_call": {"name": "search", "arguments": {"filter": {"tags": ["a", "b"], "range": {"from": 1, "to": 10}}}}}`

	calls := Extract(text)
	require.Len(t, calls, 1)
	filter, ok := calls[0].Arguments["filter"].(map[string]interface{})
	require.True(t, ok)
	rng := filter["range"].(map[string]interface{})
	assert.Equal(t, json.Number("10"), rng["to"])
	assert.Equal(t, len(text), calls[0].End)
}

func TestExtract_UnmatchedBraceSkipsOnlyThatOccurrence(t *testing.T) {
	text := `{"tool_call": {"name": "broken", "arguments": {}} oops ` +
		`{"tool_call": {"name": "get_time", "arguments": {}}}`

	calls := Extract(text)
	assert.Equal(t, []string{"get_time"}, callNames(calls))
}

func TestExtract_NoOpeningBraceBeforeMarker(t *testing.T) {
	text := `"tool_call": {"name": "x"}} and {"tool_call": {"name": "y"}}`

	calls := Extract(text)
	assert.Equal(t, []string{"y"}, callNames(calls))
}

func TestExtract_SkipsMalformedFragments(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"invalid json", `{"tool_call": {"name": "a", "arguments": {,}}}`},
		{"marker not an object", `{"tool_call": "get_time"}`},
		{"marker is array", `{"tool_call": ["get_time"]}`},
		{"missing name", `{"tool_call": {"arguments": {}}}`},
		{"name not a string", `{"tool_call": {"name": 3, "arguments": {}}}`},
		{"arguments not an object", `{"tool_call": {"name": "a", "arguments": [1, 2]}}`},
		{"marker as value", `{"kind": "tool_call"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := tt.text + ` {"tool_call": {"name": "ok", "arguments": {}}}`
			calls := Extract(text)
			assert.Equal(t, []string{"ok"}, callNames(calls))
		})
	}
}

func TestExtract_MissingArgumentsDefaultsToEmpty(t *testing.T) {
	calls := Extract(`{"tool_call": {"name": "get_time"}}`)
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].Arguments)
	assert.Empty(t, calls[0].Arguments)

	calls = Extract(`{"tool_call": {"name": "get_time", "arguments": null}}`)
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Arguments)
}

func TestExtract_MarkerNestedInUnrelatedObject(t *testing.T) {
	text := `{"response": {"thought": "need time", "action": {"tool_call": {"name": "get_time", "arguments": {}}}}}`

	calls := Extract(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "get_time", calls[0].Name)
}

func TestExtract_MarkerInsideRecognizedCallIsNotReported(t *testing.T) {
	text := `{"tool_call": {"name": "echo", "arguments": {"payload": {"tool_call": {"name": "inner", "arguments": {}}}}}}`

	calls := Extract(text)
	assert.Equal(t, []string{"echo"}, callNames(calls))
}

func TestExtract_BracesInsideStrings(t *testing.T) {
	text := `{"tool_call": {"name": "echo", "arguments": {"text": "a } b"}}} ` +
		`{"tool_call": {"name": "get_time", "arguments": {}}}`

	calls := Extract(text)
	require.Equal(t, []string{"echo", "get_time"}, callNames(calls))
	assert.Equal(t, "a } b", calls[0].Arguments["text"])

	// the naive scan closes the first object early and loses it
	naive := NewExtractor(WithStringAwareScan(false)).Extract(text)
	assert.Equal(t, []string{"get_time"}, callNames(naive))
}

func TestExtract_EscapedQuotesInsideStrings(t *testing.T) {
	text := `{"tool_call": {"name": "echo", "arguments": {"text": "say \"}\" now"}}}`

	calls := Extract(text)
	require.Len(t, calls, 1)
	assert.Equal(t, `say "}" now`, calls[0].Arguments["text"])
}

func TestExtract_RepairOption(t *testing.T) {
	text := `{"tool_call": {"name": "echo", "arguments": {"text": "hi",}}}`

	assert.Empty(t, Extract(text))

	calls := NewExtractor(WithRepair(true)).Extract(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "hi", calls[0].Arguments["text"])
}

func TestExtract_CustomMarker(t *testing.T) {
	text := `{"action": {"name": "get_time"}} {"tool_call": {"name": "echo"}}`

	calls := NewExtractor(WithMarker("action")).Extract(text)
	assert.Equal(t, []string{"get_time"}, callNames(calls))
}

func TestExtract_NoMarker(t *testing.T) {
	assert.Empty(t, Extract("It is a sunny day {with braces} and no calls."))
	assert.Empty(t, Extract(""))
}
