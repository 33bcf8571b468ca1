// File path: internal/engine/cursor.go
package engine

import (
	"encoding/base64"
	"encoding/json"
)

// Cursor is an opaque pointer into an ordered result set: the last emitted
// row's id plus its order-key tuple. The wire format is base64-encoded JSON
// and must round-trip exactly.
type Cursor struct {
	ID    string        `json:"id"`
	Order []interface{} `json:"order"`
}

// EncodeCursor renders a cursor into its opaque wire form.
func EncodeCursor(c Cursor) string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque cursor. Malformed input of any shape decodes
// to "start of set" (ok=false), never an error.
func DecodeCursor(encoded string) (Cursor, bool) {
	if encoded == "" {
		return Cursor{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Cursor{}, false
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, false
	}
	if c.ID == "" {
		return Cursor{}, false
	}
	return c, true
}
