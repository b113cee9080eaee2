package ports

import "encoding/json"

// PayloadValidator checks a payload against its collection's declared schema.
// A nil return means the payload conforms (or the collection has no schema).
type PayloadValidator interface {
	Validate(payload json.RawMessage) error
}
