package document

import (
	"errors"
	"log/slog"
	"strings"
)

// ErrUpdateInProgress is returned by Dispatch when called while the view is
// delivering an update. Work that must dispatch from inside an update has to
// be deferred to the next loop tick.
var ErrUpdateInProgress = errors.New("document: dispatch while an update is in progress")

// ErrDestroyed is returned by Dispatch after Destroy.
var ErrDestroyed = errors.New("document: view destroyed")

// Change replaces [From, To) with Insert.
type Change struct {
	From   int
	To     int
	Insert string
}

// Transaction is one atomic change to a View: an optional text change, an
// optional new cursor position, and opaque effects for fields and plugins.
type Transaction struct {
	Change    *Change
	Selection *int
	Effects   []any
}

// Update describes a committed transaction.
type Update struct {
	View         *View
	Before       *Text
	DocChanged   bool
	SelectionSet bool
	Effects      []any
}

// Field is state derived from transactions. Fields see every update before
// plugins and listeners do.
type Field interface {
	Apply(u Update)
}

// Plugin reacts to updates and is torn down with the view.
type Plugin interface {
	Update(u Update)
	Destroy()
}

// Decoration is a non-interactive widget anchored at a document offset.
// It never affects the document text or cursor.
type Decoration struct {
	Pos   int
	Text  string
	Class string
}

// DecorationProvider supplies decorations each time the view is rendered.
type DecorationProvider interface {
	Decorations() []Decoration
}

// KeyBinding runs when Key is pressed while the view has focus. Run returns
// false to let the host apply the key's default behavior.
type KeyBinding struct {
	Key string
	Run func(v *View) bool
}

// View is an editable document with a single cursor.
// A View is not safe for concurrent use; drive it from one goroutine.
type View struct {
	text      *Text
	cursor    int
	focused   bool
	updating  bool
	destroyed bool

	fields     []Field
	plugins    []Plugin
	listeners  []func(Update)
	keymap     []KeyBinding
	decorators []DecorationProvider
}

// NewView creates a focused view over doc with the cursor at the end.
func NewView(doc string) *View {
	t := NewText(doc)
	return &View{text: t, cursor: t.Len(), focused: true}
}

// Text returns the current snapshot.
func (v *View) Text() *Text { return v.text }

// Cursor returns the cursor offset.
func (v *View) Cursor() int { return v.cursor }

// Focused reports whether key bindings are active.
func (v *View) Focused() bool { return v.focused }

// SetFocused changes focus.
func (v *View) SetFocused(f bool) { v.focused = f }

// AddField registers a field.
func (v *View) AddField(f Field) { v.fields = append(v.fields, f) }

// AddPlugin registers a plugin.
func (v *View) AddPlugin(p Plugin) { v.plugins = append(v.plugins, p) }

// RemovePlugin unregisters p without destroying it.
func (v *View) RemovePlugin(p Plugin) {
	for i, q := range v.plugins {
		if q == p {
			v.plugins = append(v.plugins[:i], v.plugins[i+1:]...)
			return
		}
	}
}

// OnUpdate registers a listener called after fields and plugins.
func (v *View) OnUpdate(fn func(Update)) { v.listeners = append(v.listeners, fn) }

// AddKeymap registers key bindings. Earlier bindings take precedence.
func (v *View) AddKeymap(bindings ...KeyBinding) { v.keymap = append(v.keymap, bindings...) }

// AddDecorations registers a decoration provider.
func (v *View) AddDecorations(p DecorationProvider) { v.decorators = append(v.decorators, p) }

// Decorations collects the decorations of every provider.
func (v *View) Decorations() []Decoration {
	var out []Decoration
	for _, p := range v.decorators {
		out = append(out, p.Decorations()...)
	}
	return out
}

// HandleKey runs the first binding for key that claims it. It returns false
// when the view is unfocused or no binding handled the key.
func (v *View) HandleKey(key string) bool {
	if !v.focused || v.destroyed {
		return false
	}
	key = strings.ToLower(key)
	for _, b := range v.keymap {
		if strings.ToLower(b.Key) == key && b.Run(v) {
			return true
		}
	}
	return false
}

// Dispatch commits tr and delivers the resulting update.
func (v *View) Dispatch(tr Transaction) error {
	if v.destroyed {
		return ErrDestroyed
	}
	if v.updating {
		return ErrUpdateInProgress
	}

	u := Update{View: v, Before: v.text, Effects: tr.Effects}
	cursor := v.cursor
	if c := tr.Change; c != nil {
		v.text = v.text.Replace(c.From, c.To, c.Insert)
		u.DocChanged = true
		cursor = mapPos(cursor, c)
	}
	if tr.Selection != nil {
		cursor = *tr.Selection
		u.SelectionSet = true
	}
	v.cursor = clamp(cursor, 0, v.text.Len())

	v.updating = true
	defer func() { v.updating = false }()

	for _, f := range v.fields {
		f.Apply(u)
	}
	for _, p := range v.plugins {
		p.Update(u)
	}
	for _, fn := range v.listeners {
		fn(u)
	}
	return nil
}

// Destroy detaches every plugin once. Later dispatches fail with ErrDestroyed.
func (v *View) Destroy() {
	if v.destroyed {
		return
	}
	v.destroyed = true
	for _, p := range v.plugins {
		p.Destroy()
	}
	slog.Debug("view destroyed", "plugins", len(v.plugins))
	v.plugins = nil
}

// mapPos maps a position through a change, keeping it after inserted text
// when it sits at the insertion point.
func mapPos(pos int, c *Change) int {
	switch {
	case pos < c.From:
		return pos
	case pos <= c.To:
		return c.From + len(c.Insert)
	default:
		return pos + len(c.Insert) - (c.To - c.From)
	}
}
