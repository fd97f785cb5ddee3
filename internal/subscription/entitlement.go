package subscription

import (
	"context"
	"errors"
	"sync"
)

// Tier is the subscription_type written on each extension.
type Tier int

const (
	TierNone     Tier = 0
	TierDaily    Tier = 1
	TierExtended Tier = 4
)

// TierFor classifies a purchased duration.
func TierFor(durationDays int) Tier {
	if durationDays > 1 {
		return TierExtended
	}
	return TierDaily
}

// Entitlement is the stored fact of a user's premium access window.
// SubscriptionEnd is kept as the raw stored string; see ParseEnd.
type Entitlement struct {
	UserID           int64
	FullName         string
	Username         string
	IsPremium        bool
	SubscriptionEnd  string
	SubscriptionType Tier
}

// Fields is a partial update. Nil members are left untouched.
type Fields struct {
	IsPremium        *bool
	SubscriptionEnd  *string
	SubscriptionType *Tier
}

var ErrNotFound = errors.New("entitlement not found")

// EntitlementStore is the CRUD contract of the external record store.
// Get returns (nil, nil) when the user has no record.
type EntitlementStore interface {
	Get(ctx context.Context, userID int64) (*Entitlement, error)
	Create(ctx context.Context, userID int64, defaults Entitlement) (*Entitlement, error)
	Update(ctx context.Context, userID int64, fields Fields) error
}

// MemoryStore keeps entitlements in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[int64]Entitlement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[int64]Entitlement)}
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (*Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[userID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) Create(_ context.Context, userID int64, defaults Entitlement) (*Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[userID]; ok {
		return &e, nil
	}
	defaults.UserID = userID
	m.data[userID] = defaults
	return &defaults, nil
}

func (m *MemoryStore) Update(_ context.Context, userID int64, f Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[userID]
	if !ok {
		return ErrNotFound
	}
	if f.IsPremium != nil {
		e.IsPremium = *f.IsPremium
	}
	if f.SubscriptionEnd != nil {
		e.SubscriptionEnd = *f.SubscriptionEnd
	}
	if f.SubscriptionType != nil {
		e.SubscriptionType = *f.SubscriptionType
	}
	m.data[userID] = e
	return nil
}

func (m *MemoryStore) CountUsers(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *MemoryStore) CountPremium(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.data {
		if e.IsPremium {
			n++
		}
	}
	return n, nil
}
