// Package extract turns a document and cursor position into the request
// sent to the completion service.
package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/document"
)

// DefaultLines is the number of lines of context kept above and below the
// cursor line.
const DefaultLines = 5

// Document is the read-only view of an editor buffer the extractor needs.
// *document.Text satisfies it.
type Document interface {
	String() string
	LineCount() int
	Line(n int) document.Line
	LineAt(offset int) document.Line
}

// Request builds a request with DefaultLines of surrounding context.
func Request(doc Document, cursor int, fileName string) *ghostline.Request {
	return RequestLines(doc, cursor, fileName, DefaultLines)
}

// RequestLines builds a request with up to n lines before and after the
// cursor line. It returns nil when the document is empty or whitespace only.
func RequestLines(doc Document, cursor int, fileName string, n int) *ghostline.Request {
	text := doc.String()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if n < 0 {
		n = 0
	}

	line := doc.LineAt(cursor)
	col := min(max(cursor-line.From, 0), len(line.Text))
	// A cursor inside a multi-byte rune splits before that rune.
	for col > 0 && col < len(line.Text) && !utf8.RuneStart(line.Text[col]) {
		col--
	}

	first := max(1, line.Number-n)
	last := min(doc.LineCount(), line.Number+n)

	return &ghostline.Request{
		FileName:         fileName,
		Code:             text,
		CurrentLine:      line.Text,
		PreviousLines:    joinLines(doc, first, line.Number-1),
		TextBeforeCursor: line.Text[:col],
		TextAfterCursor:  line.Text[col:],
		NextLines:        joinLines(doc, line.Number+1, last),
		LineNumber:       line.Number,
	}
}

// joinLines joins lines from..to (inclusive, 1-based) with "\n".
func joinLines(doc Document, from, to int) string {
	if from > to {
		return ""
	}
	parts := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		parts = append(parts, doc.Line(n).Text)
	}
	return strings.Join(parts, "\n")
}
