package analysis

import (
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/duynguyendang/lexa/pkg/model"
)

// minSpanSimilarity is the lowest normalized similarity accepted for a fuzzy span.
const minSpanSimilarity = 0.8

type segment struct {
	start, end int
}

// locate finds where a clause quoted by the model sits in the document. The
// model often trims or slightly rewords the quote, so an exact match is tried
// first, then the best matching line or sentence.
func locate(doc, quote string) *model.Span {
	quote = strings.TrimSpace(quote)
	if quote == "" || doc == "" {
		return nil
	}
	if i := strings.Index(doc, quote); i >= 0 {
		return &model.Span{Start: i, End: i + len(quote)}
	}
	if trimmed := strings.TrimSpace(strings.TrimSuffix(quote, "...")); trimmed != quote && trimmed != "" {
		if i := strings.Index(doc, trimmed); i >= 0 {
			return &model.Span{Start: i, End: i + len(trimmed)}
		}
	}

	best, bestScore := segment{}, 0.0
	quoteLower := strings.ToLower(quote)
	for _, seg := range segments(doc) {
		score := similarity(quoteLower, strings.ToLower(doc[seg.start:seg.end]))
		if score > bestScore {
			best, bestScore = seg, score
		}
	}
	if bestScore < minSpanSimilarity {
		return nil
	}
	return &model.Span{Start: best.start, End: best.end}
}

func similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	score := 1.0 - float64(levenshtein.Distance(a, b, nil))/float64(maxLen)
	if score < 0 {
		return 0
	}
	return score
}

// segments returns the byte ranges of every non-empty line and every sentence
// within a line, with surrounding whitespace excluded.
func segments(doc string) []segment {
	var out []segment
	lineStart := 0
	for lineStart <= len(doc) {
		lineEnd := strings.IndexByte(doc[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(doc)
		} else {
			lineEnd += lineStart
		}

		if seg, ok := trimSegment(doc, lineStart, lineEnd); ok {
			out = append(out, seg)
			out = append(out, sentences(doc, seg)...)
		}
		lineStart = lineEnd + 1
	}
	return out
}

func sentences(doc string, line segment) []segment {
	var out []segment
	start := line.start
	for i := line.start; i < line.end; i++ {
		switch doc[i] {
		case '.', ';', '!', '?':
			if seg, ok := trimSegment(doc, start, i+1); ok && (seg.start != line.start || seg.end != line.end) {
				out = append(out, seg)
			}
			start = i + 1
		}
	}
	if start > line.start {
		if seg, ok := trimSegment(doc, start, line.end); ok {
			out = append(out, seg)
		}
	}
	return out
}

func trimSegment(doc string, start, end int) (segment, bool) {
	for start < end && isSpace(doc[start]) {
		start++
	}
	for end > start && isSpace(doc[end-1]) {
		end--
	}
	return segment{start: start, end: end}, end > start
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
