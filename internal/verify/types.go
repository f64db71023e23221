// Package verify owns verification-code records and their lifecycle:
// a code is issued Pending, completes exactly once, or lapses to
// Expired after its TTL. Completion and the identity commit form one
// logical transaction.
package verify

import "time"

// Status is the lifecycle state of a verification record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Verification is one in-flight proof-of-control attempt.
type Verification struct {
	Code      string    `json:"code"`
	OwnerID   string    `json:"owner_id"`
	GameID    string    `json:"game_id"`
	GameName  string    `json:"game_name"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// GameToken is a single-use session token handed to the game-server
// plugin for authenticated in-game actions.
type GameToken struct {
	Token     string    `json:"token"`
	OwnerID   string    `json:"owner_id"`
	Used      bool      `json:"used"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	// DefaultTTL bounds the validity of a verification code.
	DefaultTTL = 30 * time.Minute
	// TokenTTL bounds the validity of a game session token.
	TokenTTL = 15 * time.Minute
	// CodeLength is the fixed length of issued codes.
	CodeLength = 6
)
