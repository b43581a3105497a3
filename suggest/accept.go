package suggest

import "github.com/Paranoid-AF/ghostline/document"

// DefaultAcceptKey accepts the suggestion.
const DefaultAcceptKey = "tab"

// Accept inserts the stored suggestion at the cursor, moves the cursor to
// its end and clears the store, all in one transaction. It returns false
// without touching the view when there is no suggestion.
func Accept(v *document.View, store *Store) bool {
	text, ok := store.Get()
	if !ok {
		return false
	}
	cursor := v.Cursor()
	end := cursor + len(text)
	err := v.Dispatch(document.Transaction{
		Change:    &document.Change{From: cursor, To: cursor, Insert: text},
		Selection: &end,
		Effects:   []any{SetSuggestion("")},
	})
	return err == nil
}

// AcceptBinding binds key to Accept.
func AcceptBinding(key string, store *Store) document.KeyBinding {
	return document.KeyBinding{
		Key: key,
		Run: func(v *document.View) bool { return Accept(v, store) },
	}
}
