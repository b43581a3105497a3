// Package document provides the editor surface the suggestion engine runs
// against: immutable text snapshots with line lookup, and a View that applies
// transactions atomically and notifies fields, plugins and listeners.
package document

import "strings"

// Line is one line of a Text. From and To are byte offsets of the first byte
// and of the byte after the last one, excluding the line break.
type Line struct {
	Number int
	From   int
	To     int
	Text   string
}

// Text is an immutable document snapshot.
type Text struct {
	lines  []string
	starts []int // byte offset of each line start
	length int
}

// NewText builds a snapshot from s. Lines are split on "\n" only.
func NewText(s string) *Text {
	lines := strings.Split(s, "\n")
	starts := make([]int, len(lines))
	off := 0
	for i, l := range lines {
		starts[i] = off
		off += len(l) + 1
	}
	return &Text{lines: lines, starts: starts, length: len(s)}
}

// String returns the full text.
func (t *Text) String() string {
	return strings.Join(t.lines, "\n")
}

// Len returns the length of the text in bytes.
func (t *Text) Len() int {
	return t.length
}

// LineCount returns the number of lines. An empty text has one empty line.
func (t *Text) LineCount() int {
	return len(t.lines)
}

// Line returns line n (1-based). n is clamped to the valid range.
func (t *Text) Line(n int) Line {
	n = clamp(n, 1, len(t.lines))
	from := t.starts[n-1]
	text := t.lines[n-1]
	return Line{Number: n, From: from, To: from + len(text), Text: text}
}

// LineAt returns the line containing offset. offset is clamped to [0, Len].
func (t *Text) LineAt(offset int) Line {
	offset = clamp(offset, 0, t.length)
	lo, hi := 0, len(t.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t.starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return t.Line(lo + 1)
}

// Replace returns a new snapshot with [from, to) replaced by insert.
func (t *Text) Replace(from, to int, insert string) *Text {
	from = clamp(from, 0, t.length)
	to = clamp(to, from, t.length)
	s := t.String()
	return NewText(s[:from] + insert + s[to:])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
