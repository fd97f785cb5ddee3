package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"nexus-bot/internal/subscription"
)

// EntitlementStore implements subscription.EntitlementStore on the users table.
type EntitlementStore struct {
	db *gorm.DB
}

func NewEntitlementStore(db *gorm.DB) *EntitlementStore {
	return &EntitlementStore{db: db}
}

func (s *EntitlementStore) Get(ctx context.Context, userID int64) (*subscription.Entitlement, error) {
	var u User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := toEntitlement(u)
	return &e, nil
}

func (s *EntitlementStore) Create(ctx context.Context, userID int64, defaults subscription.Entitlement) (*subscription.Entitlement, error) {
	u := fromEntitlement(userID, defaults)
	var out User
	err := s.db.WithContext(ctx).
		Where(User{TelegramID: userID}).
		Attrs(u).
		FirstOrCreate(&out).Error
	if err != nil {
		return nil, err
	}
	e := toEntitlement(out)
	return &e, nil
}

func (s *EntitlementStore) Update(ctx context.Context, userID int64, f subscription.Fields) error {
	updates := updateMap(f)
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&User{}).Where("telegram_id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

// PremiumUsers lists users flagged premium that were not reminded yet for
// their current term.
func (s *EntitlementStore) PremiumUsers(ctx context.Context) ([]subscription.Entitlement, error) {
	var users []User
	if err := s.db.WithContext(ctx).Where("is_premium = true AND notified_expiring = false").Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]subscription.Entitlement, 0, len(users))
	for _, u := range users {
		out = append(out, toEntitlement(u))
	}
	return out, nil
}

func (s *EntitlementStore) MarkReminded(ctx context.Context, userID int64) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("telegram_id = ?", userID).Update("notified_expiring", true).Error
}

func (s *EntitlementStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&User{}).Count(&n).Error
	return n, err
}

// CountPremium counts users flagged premium. Stale flags are included since
// expiry is only written back when the user interacts.
func (s *EntitlementStore) CountPremium(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&User{}).Where("is_premium = true").Count(&n).Error
	return n, err
}

func toEntitlement(u User) subscription.Entitlement {
	e := subscription.Entitlement{
		UserID:           u.TelegramID,
		FullName:         u.FullName,
		Username:         u.Username,
		IsPremium:        u.IsPremium,
		SubscriptionType: subscription.Tier(u.SubscriptionType),
	}
	if u.SubscriptionEnd != nil {
		e.SubscriptionEnd = *u.SubscriptionEnd
	}
	return e
}

func fromEntitlement(userID int64, e subscription.Entitlement) User {
	u := User{
		TelegramID:       userID,
		FullName:         e.FullName,
		Username:         e.Username,
		IsPremium:        e.IsPremium,
		SubscriptionType: int(e.SubscriptionType),
	}
	if e.SubscriptionEnd != "" {
		end := e.SubscriptionEnd
		u.SubscriptionEnd = &end
	}
	return u
}

func updateMap(f subscription.Fields) map[string]interface{} {
	updates := make(map[string]interface{})
	if f.IsPremium != nil {
		updates["is_premium"] = *f.IsPremium
	}
	if f.SubscriptionEnd != nil {
		updates["subscription_end"] = *f.SubscriptionEnd
		// a new term gets its own reminder
		updates["notified_expiring"] = false
	}
	if f.SubscriptionType != nil {
		updates["subscription_type"] = int(*f.SubscriptionType)
	}
	if len(updates) > 0 {
		updates["updated_at"] = time.Now().UTC()
	}
	return updates
}
