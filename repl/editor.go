package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/Paranoid-AF/ghostline/document"
	"github.com/Paranoid-AF/ghostline/loop"
	"github.com/Paranoid-AF/ghostline/suggest"
	"github.com/Paranoid-AF/ghostline/toggle"
)

// Editor is a minimal multi-line editor hosting the suggestion engine.
// Every method must run on the editor's loop.
type Editor struct {
	view   *document.View
	loop   *loop.Loop
	toggle *toggle.Toggle
	engine *suggest.Engine
	path   string
	accept string
	log    *sessionLog
	logger *slog.Logger

	// draw repaints the terminal; nil in tests.
	draw          func(e *Editor)
	renderPending bool
	status        string
	unsubscribe   func()
}

// NewEditor creates an editor over text. path is the file Ctrl-S writes to
// and may be empty.
func NewEditor(l *loop.Loop, text, path string, tog *toggle.Toggle, log *sessionLog, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	v := document.NewView(text)
	e := &Editor{view: v, loop: l, toggle: tog, path: path, log: log, logger: logger}
	v.OnUpdate(func(document.Update) { e.requestRender() })
	e.unsubscribe = tog.Subscribe(func(bool) { l.Post(e.requestRender) })
	return e
}

// Attach starts suggestions for the editor's view.
func (e *Editor) Attach(opts suggest.Options) {
	opts.Toggle = e.toggle
	if opts.FileName == "" {
		opts.FileName = e.path
	}
	if opts.AcceptKey == "" {
		opts.AcceptKey = suggest.DefaultAcceptKey
	}
	e.accept = opts.AcceptKey
	e.engine = suggest.Attach(e.view, e.loop, opts)
	e.requestRender()
}

// Close detaches the engine and destroys the view.
func (e *Editor) Close() {
	if e.engine != nil {
		e.engine.Detach()
	}
	e.unsubscribe()
	e.view.Destroy()
}

// Notify shows msg on the status line. It may be called from any goroutine.
func (e *Editor) Notify(msg string) {
	e.loop.Post(func() {
		e.status = msg
		e.requestRender()
	})
}

// Text returns the document text.
func (e *Editor) Text() string { return e.view.Text().String() }

// Cursor returns the cursor offset.
func (e *Editor) Cursor() int { return e.view.Cursor() }

// HandleKey applies k and reports whether the editor should quit.
func (e *Editor) HandleKey(k Key) (quit bool) {
	defer e.requestRender()

	if k.Name == "" {
		e.insert(k.Text)
		return false
	}

	if e.tryAccept(k.Name) {
		return false
	}

	switch k.Name {
	case "ctrl+c", "ctrl+d":
		return true
	case "ctrl+g":
		enabled := !e.toggle.Enabled()
		if err := e.toggle.Set(enabled); err != nil {
			e.status = "toggle not saved: " + err.Error()
		} else if enabled {
			e.status = "suggestions on"
		} else {
			e.status = "suggestions off"
		}
	case "ctrl+s":
		e.save()
	case "tab":
		e.insert("\t")
	case "enter":
		e.insert("\n")
	case "backspace":
		if c := e.view.Cursor(); c > 0 {
			_, size := utf8.DecodeLastRuneInString(e.Text()[:c])
			e.dispatch(document.Transaction{Change: &document.Change{From: c - size, To: c}})
		}
	case "delete":
		if c := e.view.Cursor(); c < e.view.Text().Len() {
			_, size := utf8.DecodeRuneInString(e.Text()[c:])
			e.dispatch(document.Transaction{Change: &document.Change{From: c, To: c + size}})
		}
	case "left":
		if c := e.view.Cursor(); c > 0 {
			_, size := utf8.DecodeLastRuneInString(e.Text()[:c])
			e.moveTo(c - size)
		}
	case "right":
		if c := e.view.Cursor(); c < e.view.Text().Len() {
			_, size := utf8.DecodeRuneInString(e.Text()[c:])
			e.moveTo(c + size)
		}
	case "up":
		e.moveLine(-1)
	case "down":
		e.moveLine(1)
	case "home", "ctrl+a":
		e.moveTo(e.view.Text().LineAt(e.view.Cursor()).From)
	case "end", "ctrl+e":
		e.moveTo(e.view.Text().LineAt(e.view.Cursor()).To)
	}
	return false
}

// tryAccept runs the view's binding for key and logs an accepted suggestion.
func (e *Editor) tryAccept(key string) bool {
	if e.engine == nil {
		return false
	}
	suggestion, _ := e.engine.Store.Get()
	line := e.view.Text().LineAt(e.view.Cursor()).Number
	if !e.view.HandleKey(key) {
		return false
	}
	e.status = ""
	if e.log != nil && suggestion != "" {
		entry := acceptedEntry{Time: time.Now(), File: e.path, Line: line, Suggestion: suggestion}
		if err := e.log.Accepted(entry); err != nil {
			e.logger.Warn("failed to write session log", "error", err)
		}
	}
	return true
}

func (e *Editor) insert(s string) {
	c := e.view.Cursor()
	e.dispatch(document.Transaction{Change: &document.Change{From: c, To: c, Insert: s}})
}

func (e *Editor) moveTo(pos int) {
	e.dispatch(document.Transaction{Selection: &pos})
}

// moveLine moves the cursor delta lines, keeping its byte column when the
// target line is long enough.
func (e *Editor) moveLine(delta int) {
	txt := e.view.Text()
	cur := txt.LineAt(e.view.Cursor())
	n := cur.Number + delta
	if n < 1 || n > txt.LineCount() {
		return
	}
	target := txt.Line(n)
	pos := target.From + min(e.view.Cursor()-cur.From, len(target.Text))
	for pos > target.From && !utf8.RuneStart(txt.String()[pos]) {
		pos--
	}
	e.moveTo(pos)
}

func (e *Editor) dispatch(tr document.Transaction) {
	if err := e.view.Dispatch(tr); err != nil {
		e.logger.Warn("edit rejected", "error", err)
	}
}

func (e *Editor) save() {
	if e.path == "" {
		e.status = "no file name"
		return
	}
	if err := os.WriteFile(e.path, []byte(e.Text()), 0644); err != nil {
		e.status = "save failed: " + err.Error()
		return
	}
	e.status = fmt.Sprintf("saved %s", e.path)
}

// StatusLine describes the editor state for the bottom line.
func (e *Editor) StatusLine() string {
	line := e.view.Text().LineAt(e.view.Cursor())
	state := "off"
	if e.engine != nil {
		p := e.engine.Presenter.State()
		switch {
		case !p.Enabled:
			state = "off"
		case p.Waiting:
			state = "thinking"
		case p.Suggestion != "":
			state = e.accept + " to accept"
		default:
			state = "on"
		}
	}
	s := fmt.Sprintf(" %d:%d  suggestions: %s  ^G toggle  ^S save  ^D quit ", line.Number, e.view.Cursor()-line.From+1, state)
	if e.status != "" {
		s += " " + e.status + " "
	}
	return s
}

// requestRender schedules one repaint after the current loop task.
func (e *Editor) requestRender() {
	if e.draw == nil || e.renderPending {
		return
	}
	e.renderPending = true
	e.loop.Post(func() {
		e.renderPending = false
		e.draw(e)
	})
}
