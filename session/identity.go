package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrNoIdentity is returned when an identity payload carries no usable id.
var ErrNoIdentity = errors.New("session: identity payload has no id")

// Identity is the authenticated principal as reported by the backend.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`

	// Raw holds the object the fields were decoded from.
	Raw json.RawMessage `json:"-"`
}

// envelopeKeys are wrapper fields some endpoints nest the user object under.
var envelopeKeys = []string{"user", "data", "me"}

// ParseIdentity decodes a current-identity response body. Numeric ids are
// converted to strings, and a single level of {"user": {...}} style wrapping is accepted.
func ParseIdentity(body []byte) (Identity, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Identity{}, err
	}
	raw := json.RawMessage(bytes.TrimSpace(body))

	if _, ok := fields["id"]; !ok {
		for _, key := range envelopeKeys {
			inner, ok := fields[key]
			if !ok {
				continue
			}
			var nested map[string]json.RawMessage
			if json.Unmarshal(inner, &nested) == nil {
				if _, ok := nested["id"]; ok {
					fields, raw = nested, inner
					break
				}
			}
		}
	}

	id := decodeID(fields["id"])
	if id == "" {
		return Identity{}, ErrNoIdentity
	}

	ident := Identity{
		ID:    id,
		Name:  decodeString(fields["name"]),
		Email: decodeString(fields["email"]),
		Role:  decodeString(fields["role"]),
		Raw:   raw,
	}
	return ident, nil
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func decodeString(raw json.RawMessage) string {
	var s string
	if len(raw) > 0 && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}
