package core

import "fmt"

var (
	// ErrCapacityExceeded is returned by spawn when the pool already holds
	// the configured maximum of active sessions. No session is created.
	ErrCapacityExceeded = fmt.Errorf("session pool at capacity")

	// ErrNotFound is returned when a reference resolves to no live session.
	ErrNotFound = fmt.Errorf("session not found")

	// ErrInvalidTransition is returned when an operation is rejected because
	// of the session's current status (e.g. responding to a session that is
	// not running). No state change occurs.
	ErrInvalidTransition = fmt.Errorf("invalid session transition")

	// ErrAlreadyTerminal is returned by kill when the session has already
	// reached a terminal status.
	ErrAlreadyTerminal = fmt.Errorf("session already terminal")
)
