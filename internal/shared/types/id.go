// Package types holds identifier helpers shared by the stores.
package types

import "github.com/google/uuid"

// ID names a stored document. Generated ids are random UUIDs; ids chosen by
// callers (identity ids keying role documents) may be any non-empty string.
type ID string

// NewID generates a new random ID
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}
