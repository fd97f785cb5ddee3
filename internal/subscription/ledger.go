package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nexus-bot/internal/keylock"
)

var ErrInvalidDuration = errors.New("duration must be a positive number of days")

// Layouts accepted for a stored subscription end. Zone-less values are UTC.
var endLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// FormatEnd is the canonical stored representation.
func FormatEnd(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseEnd reads a stored subscription end. ok is false for empty or
// malformed values.
func ParseEnd(raw string) (t time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range endLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// NextEnd stacks durationDays onto max(currentEnd, now). An absent,
// unparseable or past currentEnd starts from now.
func NextEnd(currentEnd string, now time.Time, durationDays int) time.Time {
	base := now.UTC()
	if end, ok := ParseEnd(currentEnd); ok && end.After(base) {
		base = end
	}
	return base.AddDate(0, 0, durationDays)
}

// Active reports whether a stored end lies strictly after now.
func Active(currentEnd string, now time.Time) bool {
	end, ok := ParseEnd(currentEnd)
	return ok && end.After(now)
}

// Ledger applies extensions to the entitlement store. Writes for the same
// user are serialized.
type Ledger struct {
	store EntitlementStore
	locks *keylock.Map
	now   func() time.Time
}

func NewLedger(store EntitlementStore) *Ledger {
	return &Ledger{store: store, locks: keylock.New(), now: time.Now}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Extend pushes the user's subscription end by durationDays and marks the
// user premium. The returned time is only meaningful when err is nil.
func (l *Ledger) Extend(ctx context.Context, userID int64, durationDays int) (time.Time, error) {
	if durationDays <= 0 {
		return time.Time{}, ErrInvalidDuration
	}
	unlock := l.locks.Lock(userID)
	defer unlock()

	current, err := l.store.Get(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load entitlement: %w", err)
	}
	if current == nil {
		current, err = l.store.Create(ctx, userID, Entitlement{})
		if err != nil {
			return time.Time{}, fmt.Errorf("create entitlement: %w", err)
		}
	}

	end := NextEnd(current.SubscriptionEnd, l.now(), durationDays)
	premium := true
	stored := FormatEnd(end)
	tier := TierFor(durationDays)
	if err := l.store.Update(ctx, userID, Fields{
		IsPremium:        &premium,
		SubscriptionEnd:  &stored,
		SubscriptionType: &tier,
	}); err != nil {
		return time.Time{}, fmt.Errorf("update entitlement: %w", err)
	}
	return end, nil
}

// WithLock runs fn while holding the user's ledger lock. Stores that apply an
// extension themselves use it to stay serialized with Extend and Refresh.
func (l *Ledger) WithLock(userID int64, fn func() error) error {
	unlock := l.locks.Lock(userID)
	defer unlock()
	return fn()
}

// Refresh loads the user's entitlement, creating it from defaults on first
// contact, and writes the premium flag back when it disagrees with the stored
// end. It runs under the same lock as Extend, so a concurrent approval is
// never overwritten. When only the write-back fails the corrected entitlement
// is returned together with the error.
func (l *Ledger) Refresh(ctx context.Context, userID int64, defaults Entitlement) (*Entitlement, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	e, err := l.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entitlement: %w", err)
	}
	if e == nil {
		if e, err = l.store.Create(ctx, userID, defaults); err != nil {
			return nil, fmt.Errorf("create entitlement: %w", err)
		}
	}

	active := Active(e.SubscriptionEnd, l.now())
	if e.IsPremium == active {
		return e, nil
	}
	e.IsPremium = active
	if err := l.store.Update(ctx, userID, Fields{IsPremium: &active}); err != nil {
		return e, fmt.Errorf("sync premium flag: %w", err)
	}
	return e, nil
}
