package verify

import "errors"

var (
	ErrNotFound         = errors.New("verify: not found")
	ErrInvalidOrExpired = errors.New("verify: code invalid or expired")
	ErrTokenInvalid     = errors.New("verify: token invalid, used or expired")
)
