package query

import (
	"strings"
	"unicode/utf8"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"querydeck/internal/domain"
)

// batchText is one statement located in the submitted document.
type batchText struct {
	text      string
	selection domain.SelectionRange
}

// splitBatches splits text into statements with the PostgreSQL scanner and
// locates each statement relative to origin, the position of text in its
// document. If the scanner rejects the text it is run as a single batch.
func splitBatches(text string, origin domain.SelectionRange) []batchText {
	stmts, err := pg_query.SplitWithScanner(text, true)
	if err != nil {
		stmts = []string{strings.TrimSpace(text)}
	}

	out := make([]batchText, 0, len(stmts))
	cursor := 0
	for _, stmt := range stmts {
		stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
		if stmt == "" {
			continue
		}
		start := cursor
		if idx := strings.Index(text[cursor:], stmt); idx >= 0 {
			start = cursor + idx
		}
		end := start + len(stmt)
		if end > len(text) {
			end = len(text)
		}
		cursor = end
		out = append(out, batchText{
			text:      stmt,
			selection: spanRange(text, start, end, origin),
		})
	}
	return out
}

// spanRange converts the byte span [start, end) of text into a document range.
func spanRange(text string, start, end int, origin domain.SelectionRange) domain.SelectionRange {
	sl, sc := position(text, start)
	el, ec := position(text, end)
	return domain.SelectionRange{
		StartLine:   origin.StartLine + sl,
		StartColumn: offsetColumn(origin, sl, sc),
		EndLine:     origin.StartLine + el,
		EndColumn:   offsetColumn(origin, el, ec),
	}
}

func offsetColumn(origin domain.SelectionRange, line, col int) int {
	if line == 0 {
		return origin.StartColumn + col
	}
	return col
}

// position returns the zero-based line and character column of byte offset.
func position(text string, offset int) (line, col int) {
	prefix := text[:offset]
	line = strings.Count(prefix, "\n")
	if i := strings.LastIndexByte(prefix, '\n'); i >= 0 {
		prefix = prefix[i+1:]
	}
	return line, utf8.RuneCountInString(prefix)
}
