package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RedactionMarker replaces anything that looks like a secret in
// outgoing error text.
const RedactionMarker = "[REDACTED]"

var (
	// Long opaque alphanumeric runs are assumed to be tokens.
	longTokenPattern = regexp.MustCompile(`[a-zA-Z0-9]{20,}`)
	// Authorization-scheme-prefixed tokens, even short ones.
	bearerPattern = regexp.MustCompile(`Bearer\s+[a-zA-Z0-9~._+/=-]+`)
)

// SanitizeErrorText scrubs secret-looking substrings from error text
// before it leaves the gateway.
func SanitizeErrorText(s string) string {
	s = longTokenPattern.ReplaceAllString(s, RedactionMarker)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactionMarker)
	return s
}

// Fields whose values are replaced with pseudonyms derived from the
// record's numeric id, never from the plaintext value.
const (
	fieldName       = "name"
	fieldEmail      = "email"
	fieldLoginID    = "login_id"
	fieldCourseCode = "course_code"
)

// SanitizeRecord walks a JSON document and replaces every recognized
// personally-identifying field with a deterministic pseudonym. Objects
// and arrays are traversed recursively; anything that fails to parse
// is dropped rather than passed through unscrubbed.
func SanitizeRecord(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`null`), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, newError(KindInternal, "unparseable downstream response")
	}
	scrubbed := scrubValue(value)
	out, err := json.Marshal(scrubbed)
	if err != nil {
		return nil, newError(KindInternal, "failed to encode sanitized response")
	}
	return out, nil
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		id := recordID(t)
		out := make(map[string]any, len(t))
		for k, vv := range t {
			switch strings.ToLower(k) {
			case fieldName:
				out[k] = "User_" + idOr(id, "Unknown")
			case fieldEmail:
				out[k] = "user_" + idOr(id, "unknown") + "@example.com"
			case fieldLoginID:
				out[k] = "user_" + idOr(id, "unknown")
			case fieldCourseCode:
				out[k] = "COURSE_" + idOr(id, "Unknown")
			default:
				out[k] = scrubValue(vv)
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, vv := range t {
			out = append(out, scrubValue(vv))
		}
		return out
	default:
		return t
	}
}

// recordID renders the object's own "id" field, when present, as the
// pseudonym seed.
func recordID(obj map[string]any) string {
	id, ok := obj["id"]
	if !ok {
		return ""
	}
	switch t := id.(type) {
	case json.Number:
		return t.String()
	case string:
		// An id that itself looks like a token must not leak through
		// the pseudonym.
		return SanitizeErrorText(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func idOr(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return id
}
