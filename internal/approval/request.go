package approval

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"nexus-bot/internal/notify"
	"nexus-bot/internal/subscription"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

var (
	ErrUnknownRequest    = errors.New("approval request not found")
	ErrDuplicateEvidence = errors.New("evidence already submitted")
)

// Request is the durable pending-approval record, keyed by Nonce.
type Request struct {
	Nonce         string
	UserID        int64
	FullName      string
	Username      string
	PlanID        subscription.PlanID
	Amount        int64
	DisplayName   string
	Evidence      notify.Evidence
	Fingerprint   string
	Status        Status
	DecidedBy     int64
	DecidedByName string
	DecidedAt     *time.Time
	CreatedAt     time.Time
	Deliveries    []notify.MessageRef
}

// Repository persists approval requests. Claim moves a pending request to a
// final status and reports false if someone else already did.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, nonce string) (*Request, error)
	Claim(ctx context.Context, nonce string, to Status, approverID int64, approverName string, at time.Time) (bool, error)
	Release(ctx context.Context, nonce string) error
	AddDeliveries(ctx context.Context, nonce string, refs []notify.MessageRef) error
	ExpireBefore(ctx context.Context, cutoff time.Time) ([]Request, error)
	ListPending(ctx context.Context, limit int) ([]Request, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// NewNonce returns a 32 char hex id.
func NewNonce() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Fingerprint identifies an evidence file independent of the chat it was sent in.
func Fingerprint(e notify.Evidence) string {
	key := e.UniqueID
	if key == "" {
		key = e.FileID
	}
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MemoryRepository is the in-process Repository used without a database.
type MemoryRepository struct {
	mu   sync.Mutex
	data map[string]*Request
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string]*Request)}
}

func (m *MemoryRepository) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data {
		if r.Fingerprint != "" && existing.Fingerprint == r.Fingerprint &&
			(existing.Status == StatusPending || existing.Status == StatusApproved) {
			return ErrDuplicateEvidence
		}
	}
	cp := *r
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	m.data[r.Nonce] = &cp
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, nonce string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[nonce]
	if !ok {
		return nil, ErrUnknownRequest
	}
	cp := *r
	cp.Deliveries = append([]notify.MessageRef(nil), r.Deliveries...)
	return &cp, nil
}

func (m *MemoryRepository) Claim(_ context.Context, nonce string, to Status, approverID int64, approverName string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[nonce]
	if !ok {
		return false, ErrUnknownRequest
	}
	if r.Status != StatusPending {
		return false, nil
	}
	r.Status = to
	r.DecidedBy = approverID
	r.DecidedByName = approverName
	t := at
	r.DecidedAt = &t
	return true, nil
}

func (m *MemoryRepository) Release(_ context.Context, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[nonce]
	if !ok {
		return ErrUnknownRequest
	}
	r.Status = StatusPending
	r.DecidedBy = 0
	r.DecidedByName = ""
	r.DecidedAt = nil
	return nil
}

func (m *MemoryRepository) AddDeliveries(_ context.Context, nonce string, refs []notify.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[nonce]
	if !ok {
		return ErrUnknownRequest
	}
	r.Deliveries = append(r.Deliveries, refs...)
	return nil
}

func (m *MemoryRepository) ExpireBefore(_ context.Context, cutoff time.Time) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.data {
		if r.Status == StatusPending && r.CreatedAt.Before(cutoff) {
			r.Status = StatusExpired
			out = append(out, *r)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (m *MemoryRepository) ListPending(_ context.Context, limit int) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.data {
		if r.Status == StatusPending {
			out = append(out, *r)
		}
	}
	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) CountByStatus(_ context.Context) (map[Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int64)
	for _, r := range m.data {
		out[r.Status]++
	}
	return out, nil
}

func sortByCreated(rs []Request) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.Before(rs[j].CreatedAt) })
}
