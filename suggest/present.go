package suggest

import "github.com/Paranoid-AF/ghostline/document"

// GhostClass is the decoration class of ghost text.
const GhostClass = "ghost"

// State is the input of the presentation projection.
type State struct {
	Enabled    bool
	Waiting    bool
	Suggestion string
	Cursor     int
}

// Ghost is ghost text to draw at Pos. It is not part of the document.
type Ghost struct {
	Pos  int
	Text string
}

// Project returns the ghost text to show for s, if any. Nothing is shown
// while suggestions are disabled, while a newer suggestion is pending, or
// when there is no suggestion.
func Project(s State) (Ghost, bool) {
	if !s.Enabled || s.Waiting || s.Suggestion == "" {
		return Ghost{}, false
	}
	return Ghost{Pos: s.Cursor, Text: s.Suggestion}, true
}

// Presenter implements document.DecorationProvider by projecting the
// current state each time decorations are read.
type Presenter struct {
	view  *document.View
	store *Store
	ctrl  *Controller
}

// State snapshots the inputs of the projection.
func (p *Presenter) State() State {
	text, _ := p.store.Get()
	return State{
		Enabled:    p.ctrl.Enabled(),
		Waiting:    p.ctrl.Waiting(),
		Suggestion: text,
		Cursor:     p.view.Cursor(),
	}
}

// Decorations implements document.DecorationProvider.
func (p *Presenter) Decorations() []document.Decoration {
	g, ok := Project(p.State())
	if !ok {
		return nil
	}
	return []document.Decoration{{Pos: g.Pos, Text: g.Text, Class: GhostClass}}
}
