package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nexus-bot/internal/action"
	"nexus-bot/internal/approval"
	"nexus-bot/internal/notify"
	"nexus-bot/internal/notify/notifytest"
	"nexus-bot/internal/subscription"
)

var testNow = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

// openTestDB returns a migrated in-memory database. One connection keeps
// every statement on the same in-memory schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(gdb))
	return gdb
}

func newRequest(userID int64, plan subscription.PlanID, fileUID string) *approval.Request {
	ev := notify.Evidence{Kind: notify.EvidencePhoto, FileID: "file-" + fileUID, UniqueID: fileUID}
	return &approval.Request{
		Nonce:       approval.NewNonce(),
		UserID:      userID,
		FullName:    "Ali Valiyev",
		Username:    "ali",
		PlanID:      plan,
		Amount:      69990,
		DisplayName: "1 Oylik",
		Evidence:    ev,
		Fingerprint: approval.Fingerprint(ev),
		CreatedAt:   testNow,
	}
}

func TestApprovalCreateRejectsLiveDuplicateEvidence(t *testing.T) {
	ctx := context.Background()
	repo := NewApprovalRepository(openTestDB(t))

	first := newRequest(500, subscription.PlanMonthly, "uniq-1")
	require.NoError(t, repo.Create(ctx, first))
	assert.ErrorIs(t, repo.Create(ctx, newRequest(501, subscription.PlanDaily, "uniq-1")), approval.ErrDuplicateEvidence)

	claimed, err := repo.Claim(ctx, first.Nonce, approval.StatusRejected, 10, "Boss", testNow)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.NoError(t, repo.Create(ctx, newRequest(500, subscription.PlanMonthly, "uniq-1")),
		"a rejected receipt may be sent again")
}

func TestLiveFingerprintIndex(t *testing.T) {
	gdb := openTestDB(t)
	row := func(nonce, fp, status string) *PendingApproval {
		return &PendingApproval{Nonce: nonce, UserID: 1, Fingerprint: fp, Status: status, CreatedAt: testNow}
	}

	require.NoError(t, gdb.Create(row("n1", "fp", "pending")).Error)
	assert.Error(t, gdb.Create(row("n2", "fp", "approved")).Error, "index must back the duplicate check")
	assert.NoError(t, gdb.Create(row("n3", "fp", "rejected")).Error)
	assert.NoError(t, gdb.Create(row("n4", "", "pending")).Error)
	assert.NoError(t, gdb.Create(row("n5", "", "pending")).Error)
}

func TestApprovalClaimOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewApprovalRepository(openTestDB(t))
	req := newRequest(500, subscription.PlanMonthly, "uniq-1")
	require.NoError(t, repo.Create(ctx, req))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(approverID int64) {
			defer wg.Done()
			ok, err := repo.Claim(ctx, req.Nonce, approval.StatusApproved, approverID, "A", testNow)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(int64(i + 1))
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	_, err := repo.Claim(ctx, "ffffffffffffffffffffffffffffffff", approval.StatusApproved, 1, "A", testNow)
	assert.ErrorIs(t, err, approval.ErrUnknownRequest)

	require.NoError(t, repo.Release(ctx, req.Nonce))
	got, err := repo.Get(ctx, req.Nonce)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, got.Status)
	assert.Nil(t, got.DecidedAt)
}

func TestSettleApprovalStacksAndAppliesOnce(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := NewApprovalRepository(gdb)
	users := NewEntitlementStore(gdb)
	_, err := users.Create(ctx, 500, subscription.Entitlement{IsPremium: true, SubscriptionEnd: "2024-01-10T00:00:00Z"})
	require.NoError(t, err)
	req := newRequest(500, subscription.PlanMonthly, "uniq-1")
	require.NoError(t, repo.Create(ctx, req))

	claimed, end, err := repo.SettleApproval(ctx, req.Nonce, 10, "Boss", testNow, 30)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC), end)

	claimed, _, err = repo.SettleApproval(ctx, req.Nonce, 11, "Deputy", testNow, 30)
	require.NoError(t, err)
	assert.False(t, claimed)

	e, err := users.Get(ctx, 500)
	require.NoError(t, err)
	assert.True(t, e.IsPremium)
	assert.Equal(t, "2024-02-09T00:00:00Z", e.SubscriptionEnd)
	assert.Equal(t, subscription.TierExtended, e.SubscriptionType)

	got, err := repo.Get(ctx, req.Nonce)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, got.Status)
	assert.Equal(t, "Boss", got.DecidedByName)
}

func TestSettleApprovalCreatesMissingUser(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := NewApprovalRepository(gdb)
	req := newRequest(777, subscription.PlanDaily, "uniq-2")
	require.NoError(t, repo.Create(ctx, req))

	claimed, _, err := repo.SettleApproval(ctx, req.Nonce, 10, "Boss", testNow, 1)
	require.NoError(t, err)
	require.True(t, claimed)

	e, err := NewEntitlementStore(gdb).Get(ctx, 777)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Ali Valiyev", e.FullName)
	assert.Equal(t, "2024-01-06T00:00:00Z", e.SubscriptionEnd)
}

func TestSettleApprovalRollsBackClaimWhenUserWriteFails(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := NewApprovalRepository(gdb)
	req := newRequest(500, subscription.PlanMonthly, "uniq-1")
	require.NoError(t, repo.Create(ctx, req))

	err := gdb.Callback().Update().Before("gorm:update").Register("test:fail_users", func(tx *gorm.DB) {
		if tx.Statement.Table == "users" {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)

	_, _, err = repo.SettleApproval(ctx, req.Nonce, 10, "Boss", testNow, 30)
	require.Error(t, err)

	got, err := repo.Get(ctx, req.Nonce)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, got.Status, "claim must roll back with the failed extension")
}

func TestRouterApprovesThroughDatabase(t *testing.T) {
	ctx := context.Background()
	gdb := openTestDB(t)
	repo := NewApprovalRepository(gdb)
	users := NewEntitlementStore(gdb)
	catalog, err := subscription.NewCatalog(subscription.DefaultPlans()...)
	require.NoError(t, err)
	clock := func() time.Time { return testNow }
	tr := notifytest.New()
	ledger := subscription.NewLedger(users).WithClock(clock)
	router := approval.NewRouter(approval.Options{Approvers: []int64{10, 11}}, repo, ledger, catalog, tr, nil).WithClock(clock)

	req := newRequest(500, subscription.PlanDaily, "uniq-1")
	req.Nonce = ""
	report, err := router.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)

	stored, err := repo.Get(ctx, req.Nonce)
	require.NoError(t, err)
	assert.Len(t, stored.Deliveries, 2)

	out, err := router.Resolve(ctx, action.Approve(500, subscription.PlanDaily, req.Nonce), approval.Approver{ID: 10, Name: "Boss"})
	require.NoError(t, err)
	assert.Equal(t, approval.ResultApproved, out.Result)

	out, err = router.Resolve(ctx, action.Reject(500, subscription.PlanDaily, req.Nonce), approval.Approver{ID: 11, Name: "Deputy"})
	require.NoError(t, err)
	assert.Equal(t, approval.ResultAlreadyDecided, out.Result)
	assert.Equal(t, "Boss", out.Request.DecidedByName)

	e, err := users.Get(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.True(t, e.IsPremium)
	assert.Equal(t, "2024-01-06T00:00:00Z", e.SubscriptionEnd)
	assert.Equal(t, 1, tr.CountContaining(500, "Premium is active until"))
}
