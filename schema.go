package ghostline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrInvalidRequest is returned when a Request does not match the wire schema.
	ErrInvalidRequest = errors.New("invalid suggestion request")
	// ErrInvalidResponse is returned when a service reply does not match the wire schema.
	ErrInvalidResponse = errors.New("invalid suggestion response")
)

var (
	requestSchema  = mustCompileSchema(&Request{})
	responseSchema = mustCompileSchema(&Response{})
)

// mustCompileSchema reflects a JSON schema from v and compiles it for validation.
// Fields without omitempty are required and unknown fields are rejected.
func mustCompileSchema(v any) *gojsonschema.Schema {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(v)
	s.Version = ""

	data, err := json.Marshal(s)
	if err != nil {
		panic("ghostline: marshal schema: " + err.Error())
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic("ghostline: compile schema: " + err.Error())
	}
	return compiled
}

// RequestSchemaJSON returns the JSON schema of Request, for documentation and tooling.
func RequestSchemaJSON() string {
	r := &jsonschema.Reflector{Anonymous: true, DoNotReference: true, ExpandedStruct: true}
	data, _ := json.MarshalIndent(r.Reflect(&Request{}), "", "  ")
	return string(data)
}

// ValidateRequest checks req against the wire schema.
func ValidateRequest(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	result, err := requestSchema.Validate(gojsonschema.NewGoLoader(req))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !result.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(result.Errors()))
	}
	return nil
}

// DecodeResponse validates raw against the wire schema and decodes it.
func DecodeResponse(raw []byte) (*Response, error) {
	result, err := responseSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResponse, describe(result.Errors()))
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &resp, nil
}

// DecodeRequest validates raw against the wire schema and decodes it.
func DecodeRequest(raw []byte) (*Request, error) {
	result, err := requestSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describe(result.Errors()))
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return &req, nil
}

func describe(errs []gojsonschema.ResultError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Field()+": "+e.Description())
	}
	return strings.Join(parts, "; ")
}
