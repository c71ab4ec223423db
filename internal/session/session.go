// Package session mints the per-connection identifiers carried through
// every log line a pipeline emits, so a single client session can be
// traced across its accept, dial, and copy phases.
package session

import "github.com/google/uuid"

// ID is a session identifier, formatted as a canonical UUID string.
type ID string

// New mints a fresh session id.
func New() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}
