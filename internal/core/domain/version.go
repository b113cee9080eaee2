package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDenied          = errors.New("not authorized")
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidTemplate = errors.New("invalid filter template")
)

// Version is one entry in a collection's append-only log. All versions of a
// logical entity share the same ID; CreatedAt strictly increases per ID, so
// the entity's state at time T is the version with the greatest CreatedAt
// strictly before T. A tombstoned version marks the entity deleted from its
// own CreatedAt onward; reads before that instant still see prior versions.
type Version struct {
	Collection        string
	ID                string
	Payload           json.RawMessage
	AuthorizedReaders []string
	Tombstoned        bool
	CreatedAt         time.Time
}

// VisibleTo reports whether the version may be returned to caller. Internal
// callers bypass filtering; an empty reader set means the record is public.
func (v Version) VisibleTo(caller Caller) bool {
	if caller.Kind != CallerSubscriber {
		return true
	}
	if len(v.AuthorizedReaders) == 0 {
		return true
	}
	for _, reader := range v.AuthorizedReaders {
		if reader == caller.Subscriber {
			return true
		}
	}
	return false
}

// ErrSchemaViolation reports a payload that failed its collection's JSON
// schema. The write is rejected; retrying without fixing the payload is
// pointless.
type ErrSchemaViolation struct {
	Errors []string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("payload violates schema: %s", strings.Join(e.Errors, "; "))
}

func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, " \t\n\"'\\") {
		return ErrInvalidID
	}
	return nil
}
