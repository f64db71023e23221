package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAPIKey indicates the game plugin presented a bad key.
var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKeyVerifier checks the game plugin's bearer key. Configure either
// a bcrypt hash (preferred) or a plaintext key for development.
type APIKeyVerifier struct {
	hash  []byte
	plain []byte
}

// NewAPIKeyVerifier builds a verifier. hash takes precedence over plain
// when both are set; an empty verifier rejects everything.
func NewAPIKeyVerifier(hash, plain string) *APIKeyVerifier {
	v := &APIKeyVerifier{}
	if hash != "" {
		v.hash = []byte(hash)
	}
	if plain != "" {
		v.plain = []byte(plain)
	}
	return v
}

// Verify reports whether the presented key is valid.
func (v *APIKeyVerifier) Verify(presented string) error {
	if presented == "" {
		return ErrInvalidAPIKey
	}
	if len(v.hash) > 0 {
		if bcrypt.CompareHashAndPassword(v.hash, []byte(presented)) != nil {
			return ErrInvalidAPIKey
		}
		return nil
	}
	if len(v.plain) > 0 {
		if subtle.ConstantTimeCompare(v.plain, []byte(presented)) != 1 {
			return ErrInvalidAPIKey
		}
		return nil
	}
	return ErrInvalidAPIKey
}

// HashAPIKey produces a bcrypt hash suitable for GAMELINK_GAME_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
