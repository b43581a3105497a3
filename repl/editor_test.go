package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/loop"
	"github.com/Paranoid-AF/ghostline/suggest"
	"github.com/Paranoid-AF/ghostline/toggle"
)

type fetchFunc func(req *ghostline.Request) string

func (f fetchFunc) Fetch(_ context.Context, req *ghostline.Request) string { return f(req) }

// completeFunc suggests "tion() {}" after "func" and nothing elsewhere.
func completeFunc(req *ghostline.Request) string {
	if req.TextBeforeCursor == "func" && req.TextAfterCursor == "" {
		return "tion() {}"
	}
	return ""
}

func noSuggestion(*ghostline.Request) string { return "" }

type testEditor struct {
	t    *testing.T
	loop *loop.Loop
	ed   *Editor
	tog  *toggle.Toggle
}

func newTestEditor(t *testing.T, text, path string, fetch fetchFunc, log *sessionLog) *testEditor {
	t.Helper()
	l := loop.New()
	t.Cleanup(l.Close)

	tog := toggle.New(true)
	ed := NewEditor(l, text, path, tog, log, nil)
	l.Do(func() {
		ed.Attach(suggest.Options{Fetcher: fetch, Debounce: 10 * time.Millisecond})
	})
	t.Cleanup(func() { l.Do(ed.Close) })
	return &testEditor{t: t, loop: l, ed: ed, tog: tog}
}

func (te *testEditor) press(keys ...Key) (quit bool) {
	for _, k := range keys {
		te.loop.Do(func() { quit = te.ed.HandleKey(k) })
	}
	return quit
}

func (te *testEditor) typeText(s string) {
	for _, r := range s {
		te.press(Key{Text: string(r)})
	}
}

func (te *testEditor) state() (text string, cursor int, st suggest.State) {
	te.loop.Do(func() {
		text = te.ed.Text()
		cursor = te.ed.Cursor()
		st = te.ed.engine.Presenter.State()
	})
	return text, cursor, st
}

func (te *testEditor) waitFor(cond func(suggest.State) bool) {
	te.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, st := te.state(); cond(st) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	te.t.Fatal("condition not met before deadline")
}

func (te *testEditor) settle() {
	te.waitFor(func(st suggest.State) bool { return !st.Waiting })
}

func TestEditorAcceptsSuggestionWithTab(t *testing.T) {
	var buf bytes.Buffer
	log, err := newSessionLog(&buf, sessionInfo{Started: time.Now(), File: "main.js", Fetcher: "test"})
	if err != nil {
		t.Fatal(err)
	}
	te := newTestEditor(t, "", "main.js", completeFunc, log)

	te.typeText("func")
	te.waitFor(func(st suggest.State) bool { return !st.Waiting && st.Suggestion == "tion() {}" })

	te.loop.Do(func() {
		if !strings.Contains(te.ed.StatusLine(), "tab to accept") {
			t.Errorf("status line %q should offer tab", te.ed.StatusLine())
		}
	})

	te.press(Key{Name: "tab"})
	text, cursor, _ := te.state()
	if text != "function() {}" {
		t.Errorf("text = %q, want %q", text, "function() {}")
	}
	if cursor != len("function() {}") {
		t.Errorf("cursor = %d, want %d", cursor, len("function() {}"))
	}

	var got sessionFile
	if _, err := toml.Decode(buf.String(), &got); err != nil {
		t.Fatalf("decode session log: %v", err)
	}
	if len(got.Accepted) != 1 || got.Accepted[0].Suggestion != "tion() {}" || got.Accepted[0].Line != 1 {
		t.Errorf("unexpected accepted entries %+v", got.Accepted)
	}
}

func TestEditorTabWithoutSuggestionInsertsTab(t *testing.T) {
	te := newTestEditor(t, "", "", noSuggestion, nil)
	te.typeText("a")
	te.settle()

	te.press(Key{Name: "tab"})
	if text, _, _ := te.state(); text != "a\t" {
		t.Errorf("text = %q, want %q", text, "a\t")
	}
}

func TestEditorToggle(t *testing.T) {
	te := newTestEditor(t, "", "", completeFunc, nil)
	te.typeText("func")
	te.waitFor(func(st suggest.State) bool { return st.Suggestion != "" && !st.Waiting })

	te.press(Key{Name: "ctrl+g"})
	if te.tog.Enabled() {
		t.Fatal("ctrl+g should disable suggestions")
	}
	_, _, st := te.state()
	if st.Enabled || st.Suggestion != "" {
		t.Errorf("expected suggestions off and cleared, got %+v", st)
	}
	te.loop.Do(func() {
		if s := te.ed.StatusLine(); !strings.Contains(s, "suggestions: off") || !strings.Contains(s, "suggestions off") {
			t.Errorf("unexpected status line %q", s)
		}
	})

	te.press(Key{Name: "ctrl+g"})
	if !te.tog.Enabled() {
		t.Fatal("second ctrl+g should enable suggestions")
	}
	te.waitFor(func(st suggest.State) bool { return st.Suggestion == "tion() {}" && !st.Waiting })
}

func TestEditorMovement(t *testing.T) {
	te := newTestEditor(t, "ab\ncd", "", noSuggestion, nil)

	steps := []struct {
		key        Key
		wantCursor int
	}{
		{Key{Name: "up"}, 2},
		{Key{Name: "home"}, 0},
		{Key{Name: "right"}, 1},
		{Key{Name: "down"}, 4},
		{Key{Name: "ctrl+e"}, 5},
		{Key{Name: "left"}, 4},
		{Key{Name: "up"}, 1},
		{Key{Name: "up"}, 1},
		{Key{Name: "ctrl+a"}, 0},
		{Key{Name: "left"}, 0},
	}
	for i, s := range steps {
		te.press(s.key)
		if _, cursor, _ := te.state(); cursor != s.wantCursor {
			t.Fatalf("step %d (%s): cursor = %d, want %d", i, s.key.Name, cursor, s.wantCursor)
		}
	}
}

func TestEditorMovementByRune(t *testing.T) {
	te := newTestEditor(t, "é", "", noSuggestion, nil)
	te.press(Key{Name: "left"})
	if _, cursor, _ := te.state(); cursor != 0 {
		t.Errorf("cursor = %d, want 0", cursor)
	}
	te.press(Key{Name: "right"})
	if _, cursor, _ := te.state(); cursor != len("é") {
		t.Errorf("cursor = %d, want %d", cursor, len("é"))
	}
}

func TestEditorDeletion(t *testing.T) {
	te := newTestEditor(t, "héllo", "", noSuggestion, nil)

	te.press(Key{Name: "backspace"})
	if text, _, _ := te.state(); text != "héll" {
		t.Errorf("after backspace: %q", text)
	}

	te.press(Key{Name: "home"}, Key{Name: "right"}, Key{Name: "delete"})
	if text, cursor, _ := te.state(); text != "hll" || cursor != 1 {
		t.Errorf("after delete: %q at %d", text, cursor)
	}

	te.press(Key{Name: "enter"})
	if text, _, _ := te.state(); text != "h\nll" {
		t.Errorf("after enter: %q", text)
	}
}

func TestEditorQuit(t *testing.T) {
	te := newTestEditor(t, "", "", noSuggestion, nil)
	if te.press(Key{Text: "x"}) {
		t.Error("typing should not quit")
	}
	if !te.press(Key{Name: "ctrl+d"}) {
		t.Error("ctrl+d should quit")
	}
	if !te.press(Key{Name: "ctrl+c"}) {
		t.Error("ctrl+c should quit")
	}
}

func TestEditorSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	te := newTestEditor(t, "package main\n", path, noSuggestion, nil)
	te.press(Key{Name: "ctrl+s"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "package main\n" {
		t.Errorf("saved %q", data)
	}
	te.loop.Do(func() {
		if s := te.ed.StatusLine(); !strings.Contains(s, "saved "+path) {
			t.Errorf("unexpected status line %q", s)
		}
	})
}

func TestEditorSaveWithoutPath(t *testing.T) {
	te := newTestEditor(t, "x", "", noSuggestion, nil)
	te.press(Key{Name: "ctrl+s"})
	te.loop.Do(func() {
		if s := te.ed.StatusLine(); !strings.Contains(s, "no file name") {
			t.Errorf("unexpected status line %q", s)
		}
	})
}

func TestEditorNotify(t *testing.T) {
	te := newTestEditor(t, "", "", noSuggestion, nil)
	te.ed.Notify("Failed to fetch AI completion")

	var status string
	te.loop.Do(func() { status = te.ed.StatusLine() })
	if !strings.Contains(status, "Failed to fetch AI completion") {
		t.Errorf("unexpected status line %q", status)
	}
}

func TestEditorStatusLinePosition(t *testing.T) {
	te := newTestEditor(t, "ab\ncde", "", noSuggestion, nil)
	te.settle()

	var status string
	te.loop.Do(func() { status = te.ed.StatusLine() })
	if !strings.HasPrefix(status, " 2:4  suggestions: on") {
		t.Errorf("unexpected status line %q", status)
	}
}

func TestEditorRendersOnChange(t *testing.T) {
	l := loop.New()
	defer l.Close()

	ed := NewEditor(l, "", "", toggle.New(true), nil, nil)
	draws := make(chan string, 16)
	ed.draw = func(e *Editor) { draws <- e.Text() }
	defer l.Do(ed.Close)

	l.Do(func() { ed.HandleKey(Key{Text: "x"}) })
	select {
	case text := <-draws:
		if text != "x" {
			t.Errorf("drew %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("editor was not redrawn")
	}
}
