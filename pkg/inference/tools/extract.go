package tools

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultMarker is the key that tags a tool invocation object in model output:
//
//	{"tool_call": {"name": "get_time", "arguments": {}}}
const DefaultMarker = "tool_call"

// Extractor recovers tool calls embedded anywhere in free-form text.
// It never fails: fragments that cannot be turned into a call are skipped.
type Extractor struct {
	marker      string
	stringAware bool
	repair      bool
}

type ExtractorOption func(*Extractor)

// WithMarker changes the key that tags a tool invocation object.
func WithMarker(marker string) ExtractorOption {
	return func(e *Extractor) {
		e.marker = marker
	}
}

// WithStringAwareScan controls whether braces inside JSON string literals are
// ignored when matching the end of a fragment. When disabled, every brace
// character counts, and a string argument containing an unbalanced brace can
// make the enclosing call unrecognizable.
func WithStringAwareScan(enabled bool) ExtractorOption {
	return func(e *Extractor) {
		e.stringAware = enabled
	}
}

// WithRepair enables a second parse attempt on fragments that are brace
// balanced but not valid JSON (trailing commas, single quotes, ...).
func WithRepair(enabled bool) ExtractorOption {
	return func(e *Extractor) {
		e.repair = enabled
	}
}

func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		marker:      DefaultMarker,
		stringAware: true,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

var defaultExtractor = NewExtractor()

// Extract runs the default extractor over text.
func Extract(text string) []RawToolCall {
	return defaultExtractor.Extract(text)
}

// Extract returns the calls found in text, in order of appearance.
func (e *Extractor) Extract(text string) []RawToolCall {
	quoted := `"` + e.marker + `"`
	var ret []RawToolCall

	// end of the last recognized fragment; markers before it belong to that call
	consumed := 0
	for pos := 0; pos < len(text); {
		idx := strings.Index(text[pos:], quoted)
		if idx < 0 {
			break
		}
		markerAt := pos + idx
		pos = markerAt + len(quoted)

		if markerAt < consumed {
			log.Trace().Int("offset", markerAt).Msg("extract: marker inside recognized call, skipping")
			continue
		}

		start := findOpeningBrace(text, markerAt)
		if start < 0 {
			log.Debug().Int("offset", markerAt).Msg("extract: no opening brace before marker")
			continue
		}
		end := findClosingBrace(text, start, e.stringAware)
		if end < 0 || end < markerAt {
			log.Debug().Int("offset", markerAt).Int("start", start).Msg("extract: unbalanced fragment")
			continue
		}

		fragment := text[start : end+1]
		call, err := e.parseFragment(fragment)
		if err != nil {
			log.Warn().Err(err).Int("offset", start).Msg("extract: skipping malformed fragment")
			continue
		}
		call.Start = start
		call.End = end + 1
		ret = append(ret, *call)
		consumed = end + 1
	}

	return ret
}

// findOpeningBrace scans backward from markerAt to the nearest opening brace
// that is not closed before the marker. Returns -1 if there is none.
func findOpeningBrace(text string, markerAt int) int {
	depth := 0
	for i := markerAt - 1; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// findClosingBrace scans forward from the opening brace at start and returns
// the index where the depth counter returns to zero, or -1.
func findClosingBrace(text string, start int, stringAware bool) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if stringAware {
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			if c == '"' {
				inString = true
				continue
			}
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (e *Extractor) parseFragment(fragment string) (*RawToolCall, error) {
	obj, err := decodeObject(fragment)
	if err != nil && e.repair {
		repaired, repairErr := jsonrepair.JSONRepair(fragment)
		if repairErr == nil {
			log.Debug().Str("fragment", fragment).Str("repaired", repaired).Msg("extract: repaired fragment")
			obj, err = decodeObject(repaired)
		}
	}
	if err != nil {
		return nil, newToolError(ErrorKindMalformedFragment, "", err, "invalid JSON")
	}

	rawCall, ok := obj[e.marker]
	if !ok {
		return nil, newToolError(ErrorKindMalformedFragment, "", nil, "%q is not a key of the enclosing object", e.marker)
	}
	callObj, ok := rawCall.(map[string]interface{})
	if !ok {
		return nil, newToolError(ErrorKindMalformedFragment, "", nil, "%q is not an object", e.marker)
	}

	name, ok := callObj["name"].(string)
	if !ok || name == "" {
		return nil, newToolError(ErrorKindMalformedFragment, "", nil, "missing tool name")
	}

	args := map[string]interface{}{}
	switch a := callObj["arguments"].(type) {
	case nil:
	case map[string]interface{}:
		args = a
	default:
		return nil, newToolError(ErrorKindMalformedFragment, name, nil, "arguments is not an object")
	}

	return &RawToolCall{
		Name:      name,
		Arguments: args,
		Fragment:  fragment,
	}, nil
}

// decodeObject parses s as a single JSON object, keeping numbers as json.Number
// so that they serialize back unchanged.
func decodeObject(s string) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var ret map[string]interface{}
	if err := dec.Decode(&ret); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after object")
	}
	if ret == nil {
		return nil, errors.New("not an object")
	}
	return ret, nil
}
