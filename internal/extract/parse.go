package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// maxErrorSnippet bounds the offending text kept on a MalformedJSONError.
const maxErrorSnippet = 500

var (
	// ErrNoJSONFound means the response contains no '{'.
	ErrNoJSONFound = errors.New("no JSON object found in response")
	// ErrUnclosedJSON means the first object's braces never balance.
	ErrUnclosedJSON = errors.New("unclosed JSON object in response")
	// ErrMalformedJSON means the isolated object does not decode.
	ErrMalformedJSON = errors.New("malformed JSON object in response")
	// ErrInvalidElement marks an items or entities element that is not a
	// decodable object. Only that element is skipped.
	ErrInvalidElement = errors.New("invalid array element")
)

// wireResponse defers decoding of array elements so one bad element does not
// reject the whole response.
type wireResponse struct {
	Items    []json.RawMessage `json:"items"`
	Entities []json.RawMessage `json:"entities"`
	Summary  Text              `json:"summary"`
}

// MalformedJSONError carries the (truncated) text that failed to decode.
type MalformedJSONError struct {
	Snippet string
	Err     error
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformedJSON, e.Err)
}

// Unwrap exposes both the sentinel and the decoder error.
func (e *MalformedJSONError) Unwrap() []error {
	return []error{ErrMalformedJSON, e.Err}
}

// ParseResponse recovers the single JSON object in a free-form model reply.
// It tolerates a leading or trailing markdown fence and any prose after the
// object's closing brace.
func ParseResponse(raw string) (*Response, error) {
	obj, err := isolateObject(raw)
	if err != nil {
		return nil, err
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return nil, &MalformedJSONError{Snippet: truncateForError(obj, maxErrorSnippet), Err: err}
	}

	resp := &Response{Summary: wire.Summary}
	for i, el := range wire.Items {
		var it RawItem
		if err := decodeElement(el, &it); err != nil {
			resp.Rejected = append(resp.Rejected, RejectedElement{Field: "items", Index: i, Err: err})
			continue
		}
		resp.Items = append(resp.Items, it)
	}
	for i, el := range wire.Entities {
		var e RawEntity
		if err := decodeElement(el, &e); err != nil {
			resp.Rejected = append(resp.Rejected, RejectedElement{Field: "entities", Index: i, Err: err})
			continue
		}
		resp.Entities = append(resp.Entities, e)
	}
	return resp, nil
}

func decodeElement(el json.RawMessage, v interface{}) error {
	trimmed := strings.TrimSpace(string(el))
	if !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("%w: %s", ErrInvalidElement, truncateForError(trimmed, 80))
	}
	if err := json.Unmarshal(el, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidElement, err)
	}
	return nil
}

// isolateObject strips fences and returns the first balanced {...} substring.
func isolateObject(raw string) (string, error) {
	text := stripFences(raw)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoJSONFound
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", ErrUnclosedJSON
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(text, "```json"):
		text = text[len("```json"):]
	case strings.HasPrefix(text, "```"):
		text = text[len("```"):]
	}
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func truncateForError(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
