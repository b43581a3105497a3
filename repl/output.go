package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Paranoid-AF/ghostline/document"
)

const tabWidth = 4

// textRun is a stretch of displayed text, either document text or ghost text.
type textRun struct {
	text  string
	ghost bool
}

// layout merges decorations into text and splits the result into display
// lines. ghost styles each ghost fragment. row and col locate the cursor
// in display cells.
func layout(text string, cursor int, decos []document.Decoration, ghost func(string) string) (lines []string, row, col int) {
	decos = append([]document.Decoration(nil), decos...)
	sort.SliceStable(decos, func(i, j int) bool { return decos[i].Pos < decos[j].Pos })
	cursor = min(max(cursor, 0), len(text))

	var runs []textRun
	pos := 0
	for _, d := range decos {
		p := min(max(d.Pos, pos), len(text))
		if p > pos {
			runs = append(runs, textRun{text: text[pos:p]})
		}
		runs = append(runs, textRun{text: d.Text, ghost: true})
		pos = p
	}
	if pos < len(text) {
		runs = append(runs, textRun{text: text[pos:]})
	}

	// Ghost text at the cursor sits after it; only earlier ghosts move it.
	var prefix strings.Builder
	pos = 0
	for _, d := range decos {
		p := min(max(d.Pos, pos), len(text))
		if p >= cursor {
			break
		}
		prefix.WriteString(text[pos:p])
		prefix.WriteString(d.Text)
		pos = p
	}
	prefix.WriteString(text[pos:cursor])

	before := prefix.String()
	row = strings.Count(before, "\n")
	col = lipgloss.Width(expandTabs(before[strings.LastIndexByte(before, '\n')+1:]))

	var cur strings.Builder
	for _, r := range runs {
		for i, part := range strings.Split(r.text, "\n") {
			if i > 0 {
				lines = append(lines, cur.String())
				cur.Reset()
			}
			part = expandTabs(part)
			if r.ghost && part != "" && ghost != nil {
				part = ghost(part)
			}
			cur.WriteString(part)
		}
	}
	lines = append(lines, cur.String())
	return lines, row, col
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", strings.Repeat(" ", tabWidth))
}

// screen draws the editor on a terminal.
type screen struct {
	out    io.Writer
	height func() int
	ghost  lipgloss.Style
	header lipgloss.Style
	status lipgloss.Style
}

func newScreen(tty *os.File) *screen {
	r := lipgloss.NewRenderer(tty)
	return &screen{
		out: tty,
		height: func() int {
			_, h, err := term.GetSize(int(tty.Fd()))
			if err != nil || h <= 0 {
				return 24
			}
			return h
		},
		ghost:  r.NewStyle().Faint(true),
		header: r.NewStyle().Bold(true),
		status: r.NewStyle().Reverse(true),
	}
}

// draw repaints the whole screen: a header, the visible document lines with
// ghost text, and a status line.
func (s *screen) draw(title string, text string, cursor int, decos []document.Decoration, status string) {
	lines, row, col := layout(text, cursor, decos, func(t string) string { return s.ghost.Render(t) })

	visible := max(s.height()-3, 1)
	top := 0
	if row >= visible {
		top = row - visible + 1
	}
	end := min(top+visible, len(lines))

	var b strings.Builder
	b.WriteString("\x1b[H\x1b[2J")
	b.WriteString(s.header.Render(title))
	b.WriteString("\r\n")
	for _, l := range lines[top:end] {
		b.WriteString(l)
		b.WriteString("\x1b[K\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(s.status.Render(status))
	fmt.Fprintf(&b, "\x1b[%d;%dH", row-top+2, col+1)
	io.WriteString(s.out, b.String())
}
