package tools

import (
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type textRange struct {
	start, end int
}

// fencedBlock locates a fenced code block: whole block including fences, and
// its inner content.
type fencedBlock struct {
	outer   textRange
	content textRange
}

// RemoveToolCallMarkers removes every call object recognized by e from text.
// A fenced code block left with nothing but whitespace is removed with its fences.
func (e *Extractor) RemoveToolCallMarkers(text string) string {
	calls := e.Extract(text)
	if len(calls) == 0 {
		return text
	}

	var spans []textRange
	for _, c := range calls {
		spans = append(spans, textRange{c.Start, c.End})
	}

	removals := append([]textRange(nil), spans...)
	for _, block := range findFencedBlocks(text) {
		if onlyWhitespaceOutside(text, block.content, spans) {
			removals = append(removals, block.outer)
		}
	}

	return collapseBlankLines(cutRanges(text, removals))
}

// RemoveToolCallMarkers strips calls recognized by the default extractor.
func RemoveToolCallMarkers(text string) string {
	return defaultExtractor.RemoveToolCallMarkers(text)
}

func findFencedBlocks(markdown string) []fencedBlock {
	var ret []fencedBlock
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		cb, ok := n.(*ast.FencedCodeBlock)
		if !ok || cb.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		contentStart := cb.Lines().At(0).Start
		contentStop := cb.Lines().At(cb.Lines().Len() - 1).Stop

		// the opening fence is the line right before the first content line
		openAt := lineStart(markdown, contentStart-1)
		if openAt < 0 {
			return ast.WalkContinue, nil
		}
		closeAt := closingFenceEnd(markdown, contentStop)

		ret = append(ret, fencedBlock{
			outer:   textRange{openAt, closeAt},
			content: textRange{contentStart, contentStop},
		})
		return ast.WalkSkipChildren, nil
	})

	return ret
}

// lineStart returns the start of the line containing pos.
func lineStart(s string, pos int) int {
	if pos < 0 || pos > len(s) {
		return -1
	}
	return strings.LastIndexByte(s[:pos], '\n') + 1
}

// closingFenceEnd returns the end of the closing fence line following pos,
// or pos itself when the block is not closed.
func closingFenceEnd(s string, pos int) int {
	rest := s[pos:]
	trimmed := strings.TrimLeft(rest, " \t\n")
	if !strings.HasPrefix(trimmed, "```") && !strings.HasPrefix(trimmed, "~~~") {
		return pos
	}
	fenceAt := pos + len(rest) - len(trimmed)
	nl := strings.IndexByte(s[fenceAt:], '\n')
	if nl < 0 {
		return len(s)
	}
	return fenceAt + nl + 1
}

func onlyWhitespaceOutside(s string, r textRange, spans []textRange) bool {
	covered := false
	i := r.start
	for i < r.end {
		inside := false
		for _, sp := range spans {
			if i >= sp.start && i < sp.end {
				i = sp.end
				inside = true
				covered = true
				break
			}
		}
		if inside {
			continue
		}
		switch s[i] {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
		i++
	}
	return covered
}

func cutRanges(s string, ranges []textRange) string {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	var b strings.Builder
	pos := 0
	for _, r := range ranges {
		if r.end <= pos {
			continue
		}
		if r.start > pos {
			b.WriteString(s[pos:r.start])
		}
		pos = r.end
	}
	if pos < len(s) {
		b.WriteString(s[pos:])
	}
	return b.String()
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	ret := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > 1 {
				continue
			}
			ret = append(ret, "")
			continue
		}
		blank = 0
		ret = append(ret, strings.TrimRight(l, " \t"))
	}
	return strings.Join(ret, "\n")
}
