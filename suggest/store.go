// Package suggest shows inline AI suggestions ("ghost text") in a
// document.View.
//
// A Store field holds the current suggestion, a Controller plugin debounces
// edits and fetches suggestions, a Presenter projects the state into a
// decoration at the cursor, and an accept key binding inserts the suggestion.
// Attach installs all of them. Everything runs on one loop.Loop.
package suggest

import "github.com/Paranoid-AF/ghostline/document"

// setSuggestion is the transaction effect that replaces the stored suggestion.
type setSuggestion struct {
	text string
}

// SetSuggestion returns an effect that stores text. The empty string clears
// the suggestion.
func SetSuggestion(text string) any {
	return setSuggestion{text: text}
}

// Store holds the current suggestion. It changes only through SetSuggestion
// effects; document edits leave it alone.
type Store struct {
	text    string
	version int
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

// Apply implements document.Field. The last SetSuggestion effect of a
// transaction wins.
func (s *Store) Apply(u document.Update) {
	for _, e := range u.Effects {
		if set, ok := e.(setSuggestion); ok {
			s.text = set.text
			s.version++
		}
	}
}

// Get returns the suggestion and whether there is one.
func (s *Store) Get() (string, bool) {
	return s.text, s.text != ""
}

// Version counts applied SetSuggestion effects.
func (s *Store) Version() int { return s.version }
