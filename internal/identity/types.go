// Package identity stores the durable chat-to-game account mapping and
// enforces its one-to-one uniqueness invariant.
package identity

import "time"

// Identity is one linked (or not yet linked) principal, keyed by the
// chat-platform account id.
type Identity struct {
	ChatID    string    `json:"chat_id"`
	ChatTag   string    `json:"chat_tag"`
	GameID    string    `json:"game_id,omitempty"`
	GameName  string    `json:"game_name,omitempty"`
	Linked    bool      `json:"linked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats aggregates the repository population.
type Stats struct {
	Total    int `json:"total"`
	Linked   int `json:"linked"`
	Unlinked int `json:"unlinked"`
}
