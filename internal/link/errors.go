package link

import "errors"

// Sentinel outcomes of the linking protocol. The HTTP layer maps each to
// a stable, distinguishable response; nothing escapes unstructured
// except genuine infrastructure failure.
var (
	ErrInvalidInput        = errors.New("link: invalid input")
	ErrAlreadyLinked       = errors.New("link: requester already linked")
	ErrTargetNotFound      = errors.New("link: game account not found")
	ErrTargetAlreadyLinked = errors.New("link: game account linked to another requester")
	ErrTargetOffline       = errors.New("link: game account not present on server")
	ErrDeliveryFailed      = errors.New("link: code delivery failed")
	ErrInvalidOrExpired    = errors.New("link: code invalid or expired")
	ErrOwnerMismatch       = errors.New("link: code belongs to a different requester")
	ErrPlayerMismatch      = errors.New("link: code does not match this player")
	ErrNothingToUnlink     = errors.New("link: no linked game account")
	ErrRateLimited         = errors.New("link: rate limited")
)
