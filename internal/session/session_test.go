package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-bot/internal/subscription"
)

var daily = subscription.Plan{ID: subscription.PlanDaily, DurationDays: 1, Price: 7990, Name: "1 Kunlik"}

func TestTransitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Begin(1, daily, now)
	assert.Equal(t, AwaitingEvidence, s.State)
	assert.Equal(t, int64(7990), s.Amount)
	assert.Equal(t, "1 Kunlik", s.DisplayName)

	assert.ErrorIs(t, s.Resolve(), ErrNotSubmitted)

	require.NoError(t, s.Submit("photo-1", "nonce-1"))
	assert.Equal(t, Submitted, s.State)
	assert.Equal(t, "photo-1", s.EvidenceRef)

	assert.ErrorIs(t, s.Submit("photo-2", "nonce-2"), ErrNotAwaitingEvidence, "second evidence is ignored")
	assert.ErrorIs(t, s.Cancel(), ErrNotAwaitingEvidence, "submitted sessions cannot be cancelled")

	require.NoError(t, s.Resolve())
	assert.Equal(t, Resolved, s.State)
}

func TestCancel(t *testing.T) {
	s := Begin(1, daily, time.Now())
	require.NoError(t, s.Cancel())
	assert.Equal(t, Idle, s.State)
	assert.ErrorIs(t, s.Submit("photo", "n"), ErrNotAwaitingEvidence)
}

func TestNilSessionRejectsEverything(t *testing.T) {
	var s *Session
	assert.ErrorIs(t, s.Submit("photo", "n"), ErrNotAwaitingEvidence)
	assert.ErrorIs(t, s.Cancel(), ErrNotAwaitingEvidence)
	assert.ErrorIs(t, s.Resolve(), ErrNotSubmitted)
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	monthly := subscription.Plan{ID: subscription.PlanMonthly, DurationDays: 30, Price: 69990, Name: "1 Oylik"}

	require.NoError(t, store.Save(ctx, Begin(5, daily, time.Now())))
	require.NoError(t, store.Save(ctx, Begin(5, monthly, time.Now())))

	s, err := store.Load(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, subscription.PlanMonthly, s.PlanID)

	require.NoError(t, store.Delete(ctx, 5))
	s, err = store.Load(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(24 * time.Hour)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, Begin(1, daily, now)))
	require.NoError(t, store.Save(ctx, Begin(2, daily, now.Add(-25*time.Hour))))

	n, err := store.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, _ := store.Load(ctx, 1)
	assert.NotNil(t, s)

	now = now.Add(24 * time.Hour)
	s, _ = store.Load(ctx, 1)
	assert.Nil(t, s, "session expires after ttl")
}
