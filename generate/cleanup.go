package generate

import (
	"strings"

	"github.com/Paranoid-AF/ghostline"
)

// cleanSuggestion turns raw model output into the text to insert at the
// cursor. It returns "" when nothing useful remains.
func cleanSuggestion(output string, req *ghostline.Request, maxLines int) string {
	s := strings.ReplaceAll(output, "\r\n", "\n")
	s = stripFences(s)
	s = strings.ReplaceAll(s, cursorMarker, "")

	s = stripEcho(s, req.TextBeforeCursor)
	s = stripOverlap(s, req.TextAfterCursor)

	if maxLines > 0 {
		if lines := strings.Split(s, "\n"); len(lines) > maxLines {
			s = strings.Join(lines[:maxLines], "\n")
		}
	}

	s = strings.TrimRight(s, " \t\n")
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// stripFences returns the body of the first markdown code block in s, or s
// unchanged when it has none.
func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	// Drop the info string ("```go").
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return ""
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSuffix(body, "\n")
}

// stripEcho removes text the model repeated from before the cursor.
func stripEcho(s, before string) string {
	if before == "" {
		return s
	}
	if strings.HasPrefix(s, before) {
		return s[len(before):]
	}
	// The model often restarts the line without its indentation.
	if trimmed := strings.TrimLeft(before, " \t"); trimmed != "" {
		if rest, ok := strings.CutPrefix(strings.TrimLeft(s, " \t"), trimmed); ok {
			return rest
		}
	}
	return s
}

// stripOverlap removes the longest tail of s that is already present at the
// start of the text after the cursor.
func stripOverlap(s, after string) string {
	if after == "" || s == "" {
		return s
	}
	n := min(len(s), len(after))
	for k := n; k > 0; k-- {
		if strings.HasSuffix(s, after[:k]) {
			return s[:len(s)-k]
		}
	}
	return s
}
