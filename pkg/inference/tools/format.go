package tools

import (
	"fmt"
	"strings"
)

// FormatResult renders one execution result as a short markdown paragraph.
func FormatResult(r ToolExecutionResult) string {
	status := "succeeded"
	body := OutputString(r.Output)
	if !r.Succeeded {
		status = "failed"
		if r.Err != nil {
			body = r.Err.Error()
		}
	}
	if body == "" {
		body = "(no output)"
	}

	timing := ""
	if secs := r.Duration.Seconds(); secs >= 0.1 {
		timing = fmt.Sprintf(" (%.1fs)", secs)
	}

	return fmt.Sprintf("**%s** %s%s\n%s", r.Call.Name, status, timing, body)
}

// FormatResults renders results in order, separated by blank lines.
func FormatResults(results []ToolExecutionResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, FormatResult(r))
	}
	return strings.Join(parts, "\n\n")
}

// SynthesizeResponse combines a model response with the results of the calls
// it requested, without asking the model again. The call objects are removed
// from the response and the results appended.
func (e *Extractor) SynthesizeResponse(response string, results []ToolExecutionResult) string {
	cleaned := strings.TrimSpace(e.RemoveToolCallMarkers(response))
	if len(results) == 0 {
		return cleaned
	}
	if cleaned != "" {
		return cleaned + "\n\n" + FormatResults(results)
	}

	if len(results) == 1 {
		r := results[0]
		if r.Succeeded {
			return fmt.Sprintf("Executed %s:\n\n%s", r.Call.Name, OutputString(r.Output))
		}
		return fmt.Sprintf("Executing %s failed:\n\n%v", r.Call.Name, r.Err)
	}

	succeeded := 0
	for _, r := range results {
		if r.Succeeded {
			succeeded++
		}
	}
	return fmt.Sprintf("Executed %d tools, %d succeeded:\n\n%s", len(results), succeeded, FormatResults(results))
}
