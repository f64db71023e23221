// Package link drives a link request from initiation through code
// delivery to completion or expiry, composing the identity repository,
// the verification ledger and the game-server collaborators. All
// uniqueness invariants are enforced by the stores; the orchestrator
// never mutates storage directly.
package link

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gamelink.org/internal/audit"
	"gamelink.org/internal/identity"
	"gamelink.org/internal/obs"
	"gamelink.org/internal/ratelimit"
	"gamelink.org/internal/verify"
)

// Player is a resolved game-server identity.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directory resolves claimed player names against the game platform's
// identity directory.
type Directory interface {
	ResolveByName(ctx context.Context, name string) (Player, error)
}

// Presence probes whether a player currently holds a session on the
// game server. Liveness proves the requester controls that session now,
// not merely knowledge of its name.
type Presence interface {
	IsOnline(ctx context.Context, name string) (bool, error)
}

// Messenger delivers out-of-band text to a player in-game. Best-effort:
// a failed delivery is reported, never retried internally.
type Messenger interface {
	Deliver(ctx context.Context, name, text string) error
}

// validName bounds claimed player names before any I/O happens.
var validName = regexp.MustCompile(`^\w{3,16}$`)

// Started reports a successfully opened verification. Code is included
// so the calling layer can echo it to the requester privately.
type Started struct {
	TargetName string    `json:"target_name"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// State of a requester's linking session.
type State string

const (
	StateNone    State = "none"
	StatePending State = "pending"
	StateLinked  State = "linked"
)

// LinkStatus is the requester-facing view of the state machine.
type LinkStatus struct {
	State      State      `json:"state"`
	TargetName string     `json:"target_name,omitempty"`
	LinkedAt   *time.Time `json:"linked_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Service is the linking orchestrator.
type Service struct {
	ids       identity.Store
	ledger    verify.Ledger
	directory Directory
	presence  Presence
	messenger Messenger
	limiter   *ratelimit.Limiter
	now       func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithLimiter guards Initiate and Complete with a per-requester
// sliding-window limiter.
func WithLimiter(l *ratelimit.Limiter) ServiceOption {
	return func(s *Service) { s.limiter = l }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the orchestrator.
func NewService(ids identity.Store, ledger verify.Ledger, dir Directory, pres Presence, msg Messenger, opts ...ServiceOption) *Service {
	s := &Service{
		ids:       ids,
		ledger:    ledger,
		directory: dir,
		presence:  pres,
		messenger: msg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) admit(requesterID string) error {
	if s.limiter != nil && !s.limiter.Allow(requesterID) {
		return ErrRateLimited
	}
	return nil
}

// Initiate opens a verification for requesterID against the claimed
// player name and requests in-game delivery of the code.
//
// When delivery fails the opened record deliberately stays Pending and
// Started is returned alongside ErrDeliveryFailed: retrying delivery of
// the same code is a reasonable recovery path.
func (s *Service) Initiate(ctx context.Context, requesterID, requesterTag, claimedName string) (Started, error) {
	if requesterID == "" || !validName.MatchString(claimedName) {
		return Started{}, ErrInvalidInput
	}
	if err := s.admit(requesterID); err != nil {
		s.count("initiate", "rate_limited")
		return Started{}, err
	}

	existing, err := s.ids.FindByChatID(ctx, requesterID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return Started{}, fmt.Errorf("link: lookup requester: %w", err)
	}
	if existing != nil && existing.Linked {
		s.count("initiate", "already_linked")
		return Started{TargetName: existing.GameName}, ErrAlreadyLinked
	}

	player, err := s.directory.ResolveByName(ctx, claimedName)
	if err != nil {
		s.count("initiate", "target_not_found")
		return Started{}, ErrTargetNotFound
	}

	holder, err := s.ids.FindByGameID(ctx, player.ID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return Started{}, fmt.Errorf("link: lookup game account: %w", err)
	}
	if holder != nil && holder.Linked && holder.ChatID != requesterID {
		s.count("initiate", "target_already_linked")
		return Started{}, ErrTargetAlreadyLinked
	}

	// A collaborator timeout is treated identically to reported absence:
	// fail closed.
	online, err := s.presence.IsOnline(ctx, player.Name)
	if err != nil || !online {
		s.count("initiate", "target_offline")
		return Started{}, ErrTargetOffline
	}

	if _, err := s.ids.Upsert(ctx, requesterID, requesterTag); err != nil {
		return Started{}, fmt.Errorf("link: upsert requester: %w", err)
	}

	rec, err := s.ledger.Open(ctx, requesterID, player.ID, player.Name)
	if err != nil {
		return Started{}, fmt.Errorf("link: open verification: %w", err)
	}
	obs.Verifications.WithLabelValues("opened").Inc()

	started := Started{
		TargetName: player.Name,
		Code:       rec.Code,
		ExpiresAt:  rec.ExpiresAt,
	}

	text := fmt.Sprintf("[GameLink] Your verification code is: %s. Submit it in chat to finish linking.", rec.Code)
	if err := s.messenger.Deliver(ctx, player.Name, text); err != nil {
		s.count("initiate", "delivery_failed")
		audit.LogEvent(ctx, "link.delivery_failed", map[string]any{
			"requester_id": requesterID,
			"game_name":    player.Name,
			"code":         redactCode(rec.Code),
		})
		return started, ErrDeliveryFailed
	}

	s.count("initiate", "ok")
	audit.LogEvent(ctx, "link.started", map[string]any{
		"requester_id": requesterID,
		"game_id":      player.ID,
		"game_name":    player.Name,
		"code":         redactCode(rec.Code),
		"expires_at":   rec.ExpiresAt.UTC().Format(time.RFC3339),
	})
	return started, nil
}

// Complete finishes a verification for requesterID with a submitted
// code and returns the updated linked identity.
func (s *Service) Complete(ctx context.Context, requesterID, code string) (*identity.Identity, error) {
	if requesterID == "" || verify.NormalizeCode(code) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.admit(requesterID); err != nil {
		s.count("complete", "rate_limited")
		return nil, err
	}

	rec, err := s.ledger.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, verify.ErrNotFound) {
			s.count("complete", "invalid")
			return nil, ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("link: lookup code: %w", err)
	}
	// A leaked code must not let one identity complete another's
	// verification.
	if rec.OwnerID != requesterID {
		s.count("complete", "owner_mismatch")
		return nil, ErrOwnerMismatch
	}

	return s.finish(ctx, rec, "complete")
}

// CompleteFromGame finishes a verification from the game side: the
// companion plugin proves the submitting player's identity, so the
// match is against the record's target player instead of the owner.
func (s *Service) CompleteFromGame(ctx context.Context, playerID, playerName, code string) (*identity.Identity, error) {
	if playerID == "" || verify.NormalizeCode(code) == "" {
		return nil, ErrInvalidInput
	}

	rec, err := s.ledger.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, verify.ErrNotFound) {
			s.count("complete_game", "invalid")
			return nil, ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("link: lookup code: %w", err)
	}
	if rec.GameID != playerID || rec.GameName != playerName {
		s.count("complete_game", "player_mismatch")
		return nil, ErrPlayerMismatch
	}

	return s.finish(ctx, rec, "complete_game")
}

func (s *Service) finish(ctx context.Context, rec *verify.Verification, op string) (*identity.Identity, error) {
	linked, err := s.ledger.Complete(ctx, rec.Code)
	if err != nil {
		switch {
		case errors.Is(err, verify.ErrInvalidOrExpired):
			s.count(op, "invalid")
			return nil, ErrInvalidOrExpired
		case errors.Is(err, identity.ErrConflict):
			s.count(op, "target_already_linked")
			return nil, ErrTargetAlreadyLinked
		default:
			return nil, fmt.Errorf("link: complete verification: %w", err)
		}
	}
	obs.Verifications.WithLabelValues("completed").Inc()

	// Best-effort: the link is already durable, a failed notification
	// does not unwind it.
	text := fmt.Sprintf("[GameLink] Successfully linked to chat account %s!", linked.ChatTag)
	if err := s.messenger.Deliver(ctx, linked.GameName, text); err != nil {
		audit.LogEvent(ctx, "link.notify_failed", map[string]any{
			"requester_id": linked.ChatID,
			"game_name":    linked.GameName,
		})
	}

	s.count(op, "ok")
	audit.LogEvent(ctx, "link.completed", map[string]any{
		"requester_id": linked.ChatID,
		"game_id":      linked.GameID,
		"game_name":    linked.GameName,
	})
	return linked, nil
}

// Unlinked reports a severed link: the cleared identity plus the prior
// game name for user feedback.
type Unlinked struct {
	PriorGameName string             `json:"prior_game_name"`
	Identity      *identity.Identity `json:"identity"`
}

// Unlink severs the requester's current link.
func (s *Service) Unlink(ctx context.Context, requesterID string) (Unlinked, error) {
	if requesterID == "" {
		return Unlinked{}, ErrInvalidInput
	}

	existing, err := s.ids.FindByChatID(ctx, requesterID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			s.count("unlink", "nothing")
			return Unlinked{}, ErrNothingToUnlink
		}
		return Unlinked{}, fmt.Errorf("link: lookup requester: %w", err)
	}
	if !existing.Linked {
		s.count("unlink", "nothing")
		return Unlinked{}, ErrNothingToUnlink
	}

	priorName := existing.GameName
	rec, err := s.ids.Unlink(ctx, requesterID)
	if err != nil {
		return Unlinked{}, fmt.Errorf("link: unlink: %w", err)
	}

	s.count("unlink", "ok")
	audit.LogEvent(ctx, "link.unlinked", map[string]any{
		"requester_id":    requesterID,
		"prior_game_name": priorName,
	})
	return Unlinked{PriorGameName: priorName, Identity: rec}, nil
}

// Status reports the requester's state machine position.
func (s *Service) Status(ctx context.Context, requesterID string) (LinkStatus, error) {
	if requesterID == "" {
		return LinkStatus{}, ErrInvalidInput
	}

	rec, err := s.ids.FindByChatID(ctx, requesterID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return LinkStatus{}, fmt.Errorf("link: lookup requester: %w", err)
	}
	if rec != nil && rec.Linked {
		linkedAt := rec.UpdatedAt
		return LinkStatus{State: StateLinked, TargetName: rec.GameName, LinkedAt: &linkedAt}, nil
	}

	pending, err := s.ledger.FindPendingByOwner(ctx, requesterID)
	if err != nil {
		if errors.Is(err, verify.ErrNotFound) {
			return LinkStatus{State: StateNone}, nil
		}
		return LinkStatus{}, fmt.Errorf("link: lookup pending: %w", err)
	}
	if !pending.ExpiresAt.After(s.now()) {
		return LinkStatus{State: StateNone}, nil
	}
	expiresAt := pending.ExpiresAt
	return LinkStatus{State: StatePending, TargetName: pending.GameName, ExpiresAt: &expiresAt}, nil
}

// PlayerStatus reports whether a game account is linked and to which
// chat account. Serves the plugin's join-time lookup.
func (s *Service) PlayerStatus(ctx context.Context, playerID string) (*identity.Identity, error) {
	if playerID == "" {
		return nil, ErrInvalidInput
	}
	rec, err := s.ids.FindByGameID(ctx, playerID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, fmt.Errorf("link: lookup game account: %w", err)
	}
	return rec, nil
}

// AdminStats aggregates repository population counts.
func (s *Service) AdminStats(ctx context.Context) (identity.Stats, error) {
	return s.ids.Stats(ctx)
}

// IssueGameToken hands out a single-use session token for the game
// plugin, bound to the requester.
func (s *Service) IssueGameToken(ctx context.Context, requesterID string) (*verify.GameToken, error) {
	if requesterID == "" {
		return nil, ErrInvalidInput
	}
	return s.ledger.OpenToken(ctx, requesterID)
}

// RedeemGameToken consumes a single-use session token.
func (s *Service) RedeemGameToken(ctx context.Context, token string) (*verify.GameToken, error) {
	tok, err := s.ledger.ConsumeToken(ctx, token)
	if err != nil {
		if errors.Is(err, verify.ErrTokenInvalid) {
			return nil, ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("link: consume token: %w", err)
	}
	return tok, nil
}

// Sweep expires lapsed verifications, purges consumed tokens and drops
// aged rate-limiter keys. Safe to run on a timer concurrently with
// request handling.
func (s *Service) Sweep(ctx context.Context) error {
	expired, err := s.ledger.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("link: sweep ledger: %w", err)
	}
	if s.limiter != nil {
		s.limiter.Sweep()
	}
	obs.SweepRuns.Inc()
	if expired > 0 {
		obs.Verifications.WithLabelValues("expired").Add(float64(expired))
	}
	audit.LogEvent(ctx, "link.sweep", map[string]any{"expired": expired})
	return nil
}

func (s *Service) count(op, outcome string) {
	obs.LinkAttempts.WithLabelValues(op, outcome).Inc()
}

// redactCode keeps enough of the code to correlate audit events without
// exposing it to log sinks.
func redactCode(code string) string {
	if len(code) <= 2 {
		return "****"
	}
	return code[:2] + "****"
}
