// Package ghostline defines the wire types shared by the editor-side
// suggestion engine and the completion service.
// Messages are JSON-encoded and sent over HTTP, on a Unix domain socket by default.
package ghostline

// Request describes the text around the cursor at the moment a suggestion is
// requested. One Request is built per attempt and is never modified afterwards.
type Request struct {
	// FileName is the name of the edited file, used by the service as a language hint.
	FileName string `json:"fileName"`
	// Code is the full document text.
	Code string `json:"code"`
	// CurrentLine is the full text of the line holding the cursor.
	CurrentLine string `json:"currentLine"`
	// PreviousLines holds up to five lines above the cursor line, joined by "\n".
	PreviousLines string `json:"previousLines"`
	// TextBeforeCursor is the part of CurrentLine left of the cursor.
	TextBeforeCursor string `json:"textBeforeCursor"`
	// TextAfterCursor is the part of CurrentLine right of the cursor.
	TextAfterCursor string `json:"textAfterCursor"`
	// NextLines holds up to five lines below the cursor line, joined by "\n".
	NextLines string `json:"nextLines"`
	// LineNumber is the 1-based number of the cursor line.
	LineNumber int `json:"lineNumber" jsonschema:"minimum=1"`
}

// Response is sent by the completion service.
type Response struct {
	// Suggestion is the text to insert at the cursor. Empty means no suggestion.
	Suggestion string `json:"suggestion"`
	// Error is set when the service cannot fulfill the request.
	Error *Error `json:"error,omitempty"`
}

// Error describes a service-side error returned to the editor.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "not_configured", "api_error").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// ConfigResponse is returned by the service's config endpoint.
type ConfigResponse struct {
	// Config is the current configuration (for "get" and "defaults").
	Config *Config `json:"config,omitempty"`
	// Prompt is the default prompt template (for "default_prompt").
	Prompt string `json:"prompt,omitempty"`
	// Warnings contains configuration warnings (for "validate").
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the operation fails.
	Error *Error `json:"error,omitempty"`
}
