// Package session holds the per-user payment session: the in-progress
// purchase between plan selection and the approver's decision.
package session

import (
	"context"
	"errors"
	"time"

	"nexus-bot/internal/subscription"
)

type State int

const (
	Idle State = iota
	AwaitingEvidence
	Submitted
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingEvidence:
		return "awaiting_evidence"
	case Submitted:
		return "submitted"
	case Resolved:
		return "resolved"
	}
	return "unknown"
}

var (
	ErrNotAwaitingEvidence = errors.New("session is not awaiting evidence")
	ErrNotSubmitted        = errors.New("session has not been submitted")
)

type Session struct {
	UserID      int64               `json:"user_id"`
	PlanID      subscription.PlanID `json:"plan_id"`
	Amount      int64               `json:"amount"`
	DisplayName string              `json:"display_name"`
	StartedAt   time.Time           `json:"started_at"`
	State       State               `json:"state"`
	EvidenceRef string              `json:"evidence_ref,omitempty"`
	Nonce       string              `json:"nonce,omitempty"`
}

// Begin opens a new purchase for plan. Whatever session the user had before
// is replaced.
func Begin(userID int64, plan subscription.Plan, now time.Time) *Session {
	return &Session{
		UserID:      userID,
		PlanID:      plan.ID,
		Amount:      plan.Price,
		DisplayName: plan.Name,
		StartedAt:   now.UTC(),
		State:       AwaitingEvidence,
	}
}

// Submit attaches evidence and the approval nonce it was filed under.
func (s *Session) Submit(evidenceRef, nonce string) error {
	if s == nil || s.State != AwaitingEvidence {
		return ErrNotAwaitingEvidence
	}
	s.EvidenceRef = evidenceRef
	s.Nonce = nonce
	s.State = Submitted
	return nil
}

// Cancel is only allowed before evidence was sent.
func (s *Session) Cancel() error {
	if s == nil || s.State != AwaitingEvidence {
		return ErrNotAwaitingEvidence
	}
	s.State = Idle
	return nil
}

// Resolve closes a submitted session.
func (s *Session) Resolve() error {
	if s == nil || s.State != Submitted {
		return ErrNotSubmitted
	}
	s.State = Resolved
	return nil
}

// Expired reports whether the session outlived ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.StartedAt) >= ttl
}

// Store persists at most one session per user. Load returns (nil, nil) when
// the user has none.
type Store interface {
	Load(ctx context.Context, userID int64) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID int64) error
}
