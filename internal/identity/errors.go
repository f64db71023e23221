package identity

import "errors"

var (
	ErrNotFound = errors.New("identity: not found")
	ErrConflict = errors.New("identity: game account already linked")
)
