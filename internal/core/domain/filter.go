package domain

import (
	"regexp"
	"strings"
)

var fieldSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// FilterTemplate is the declarative half of a resolver: which stored field an
// operation's argument is matched against. Field is either "id" (the version
// envelope id) or a "payload."-prefixed dot path into the payload document.
// Binding is structural, never textual splicing, so argument values cannot
// change the filter's shape.
type FilterTemplate struct {
	Field    string
	Argument string
}

func (t FilterTemplate) Validate() error {
	if t.Argument == "" {
		return ErrInvalidTemplate
	}
	if t.Field == "id" {
		return nil
	}
	path, ok := strings.CutPrefix(t.Field, "payload.")
	if !ok {
		return ErrInvalidTemplate
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if !fieldSegmentPattern.MatchString(seg) {
			return ErrInvalidTemplate
		}
	}
	return nil
}

// Bind substitutes value into the template, producing an executable filter.
// The value must be a plain scalar; anything that could alter the filter's
// structure is rejected.
func (t FilterTemplate) Bind(value string) (Filter, error) {
	if err := t.Validate(); err != nil {
		return Filter{}, err
	}
	if err := ValidateID(value); err != nil {
		return Filter{}, ErrInvalidTemplate
	}
	return Filter{Field: t.Field, Value: value}, nil
}

// Filter is an equality match of one field against one scalar value. A zero
// Filter matches every version.
type Filter struct {
	Field string
	Value string
}

func (f Filter) IsZero() bool {
	return f.Field == ""
}

// PayloadPath returns the payload dot path for payload filters, or "" when
// the filter targets the envelope id.
func (f Filter) PayloadPath() string {
	path, ok := strings.CutPrefix(f.Field, "payload.")
	if !ok {
		return ""
	}
	return path
}
