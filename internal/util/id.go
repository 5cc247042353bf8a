// Package util contains small internal helpers (identifiers, session name
// derivation). This lives in internal to avoid committing to public API
// stability prematurely.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// sessionIDPrefix keeps internal session ids distinguishable from the bare
// UUIDs used as backend conversation ids, so a session id never passes a
// conversation-id shape check.
const sessionIDPrefix = "sess_"

// NewSessionID generates a new internal session identifier.
func NewSessionID() string { return sessionIDPrefix + uuid.NewString() }

// NewID generates a new unique identifier (backend conversation ids, event
// correlation).
func NewID() string { return uuid.NewString() }

// IsUUID reports whether s has the canonical 8-4-4-4-12 UUID shape. Prefixed
// session ids do not qualify.
func IsUUID(s string) bool {
	if strings.HasPrefix(s, sessionIDPrefix) {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
