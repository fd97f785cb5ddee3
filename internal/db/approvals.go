package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexus-bot/internal/approval"
	"nexus-bot/internal/notify"
	"nexus-bot/internal/subscription"
)

// ApprovalRepository implements approval.Repository.
type ApprovalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

func (r *ApprovalRepository) Create(ctx context.Context, req *approval.Request) error {
	row := fromRequest(req)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if row.Fingerprint != "" {
			var n int64
			err := tx.Model(&PendingApproval{}).
				Where("fingerprint = ? AND status IN ?", row.Fingerprint,
					[]string{string(approval.StatusPending), string(approval.StatusApproved)}).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n > 0 {
				return approval.ErrDuplicateEvidence
			}
		}
		err := tx.Create(&row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return approval.ErrDuplicateEvidence
		}
		return err
	})
}

func (r *ApprovalRepository) Get(ctx context.Context, nonce string) (*approval.Request, error) {
	var row PendingApproval
	err := r.db.WithContext(ctx).Preload("Deliveries").Where("nonce = ?", nonce).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, approval.ErrUnknownRequest
	}
	if err != nil {
		return nil, err
	}
	req := toRequest(row)
	return &req, nil
}

func (r *ApprovalRepository) Claim(ctx context.Context, nonce string, to approval.Status, approverID int64, approverName string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&PendingApproval{}).
		Where("nonce = ? AND status = ?", nonce, string(approval.StatusPending)).
		Updates(claimFields(to, approverID, approverName, at))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&PendingApproval{}).Where("nonce = ?", nonce).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, approval.ErrUnknownRequest
	}
	return false, nil
}

// SettleApproval claims a pending request as approved and extends the
// buyer's subscription in one transaction, so a crash can never leave an
// approved request without its extension.
func (r *ApprovalRepository) SettleApproval(ctx context.Context, nonce string, approverID int64, approverName string, at time.Time, durationDays int) (bool, time.Time, error) {
	if durationDays <= 0 {
		return false, time.Time{}, subscription.ErrInvalidDuration
	}
	var (
		claimed bool
		end     time.Time
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row PendingApproval
		err := tx.Select("id", "user_id", "full_name", "username").Where("nonce = ?", nonce).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return approval.ErrUnknownRequest
		}
		if err != nil {
			return err
		}

		res := tx.Model(&PendingApproval{}).
			Where("id = ? AND status = ?", row.ID, string(approval.StatusPending)).
			Updates(claimFields(approval.StatusApproved, approverID, approverName, at))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}

		var u User
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("telegram_id = ?", row.UserID).First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			u = User{TelegramID: row.UserID, FullName: row.FullName, Username: row.Username}
			err = tx.Create(&u).Error
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		current := ""
		if u.SubscriptionEnd != nil {
			current = *u.SubscriptionEnd
		}

		end = subscription.NextEnd(current, at, durationDays)
		premium := true
		stored := subscription.FormatEnd(end)
		tier := subscription.TierFor(durationDays)
		err = tx.Model(&User{}).Where("telegram_id = ?", row.UserID).Updates(updateMap(subscription.Fields{
			IsPremium:        &premium,
			SubscriptionEnd:  &stored,
			SubscriptionType: &tier,
		})).Error
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, time.Time{}, err
	}
	return claimed, end, nil
}

func (r *ApprovalRepository) Release(ctx context.Context, nonce string) error {
	return r.db.WithContext(ctx).Model(&PendingApproval{}).
		Where("nonce = ?", nonce).
		Updates(map[string]interface{}{
			"status":          string(approval.StatusPending),
			"decided_by":      0,
			"decided_by_name": "",
			"decided_at":      nil,
		}).Error
}

func (r *ApprovalRepository) AddDeliveries(ctx context.Context, nonce string, refs []notify.MessageRef) error {
	if len(refs) == 0 {
		return nil
	}
	var row PendingApproval
	if err := r.db.WithContext(ctx).Select("id").Where("nonce = ?", nonce).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return approval.ErrUnknownRequest
		}
		return err
	}
	deliveries := make([]ApprovalDelivery, 0, len(refs))
	for _, ref := range refs {
		deliveries = append(deliveries, ApprovalDelivery{
			ApprovalID: row.ID,
			ChatID:     ref.ChatID,
			MessageID:  ref.MessageID,
			Caption:    ref.Caption,
		})
	}
	return r.db.WithContext(ctx).Create(&deliveries).Error
}

func (r *ApprovalRepository) ExpireBefore(ctx context.Context, cutoff time.Time) ([]approval.Request, error) {
	var rows []PendingApproval
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND created_at < ?", string(approval.StatusPending), cutoff).
			Order("created_at").
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}
		ids := make([]uint, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		return tx.Model(&PendingApproval{}).Where("id IN ?", ids).Update("status", string(approval.StatusExpired)).Error
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var deliveries []ApprovalDelivery
	if err := r.db.WithContext(ctx).Where("approval_id IN ?", ids).Find(&deliveries).Error; err != nil {
		return nil, err
	}
	byApproval := make(map[uint][]ApprovalDelivery)
	for _, d := range deliveries {
		byApproval[d.ApprovalID] = append(byApproval[d.ApprovalID], d)
	}

	out := make([]approval.Request, 0, len(rows))
	for _, row := range rows {
		row.Status = string(approval.StatusExpired)
		row.Deliveries = byApproval[row.ID]
		out = append(out, toRequest(row))
	}
	return out, nil
}

func (r *ApprovalRepository) ListPending(ctx context.Context, limit int) ([]approval.Request, error) {
	var rows []PendingApproval
	q := r.db.WithContext(ctx).Where("status = ?", string(approval.StatusPending)).Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]approval.Request, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRequest(row))
	}
	return out, nil
}

func (r *ApprovalRepository) CountByStatus(ctx context.Context) (map[approval.Status]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&PendingApproval{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[approval.Status]int64, len(rows))
	for _, row := range rows {
		out[approval.Status(row.Status)] = row.Count
	}
	return out, nil
}

func claimFields(to approval.Status, approverID int64, approverName string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":          string(to),
		"decided_by":      approverID,
		"decided_by_name": approverName,
		"decided_at":      at,
	}
}

func fromRequest(req *approval.Request) PendingApproval {
	status := req.Status
	if status == "" {
		status = approval.StatusPending
	}
	return PendingApproval{
		Nonce:            req.Nonce,
		UserID:           req.UserID,
		FullName:         req.FullName,
		Username:         req.Username,
		PlanID:           string(req.PlanID),
		Amount:           req.Amount,
		DisplayName:      req.DisplayName,
		EvidenceKind:     string(req.Evidence.Kind),
		EvidenceFileID:   req.Evidence.FileID,
		EvidenceUniqueID: req.Evidence.UniqueID,
		Fingerprint:      req.Fingerprint,
		Status:           string(status),
		DecidedBy:        req.DecidedBy,
		DecidedByName:    req.DecidedByName,
		DecidedAt:        req.DecidedAt,
		CreatedAt:        req.CreatedAt,
	}
}

func toRequest(row PendingApproval) approval.Request {
	req := approval.Request{
		Nonce:       row.Nonce,
		UserID:      row.UserID,
		FullName:    row.FullName,
		Username:    row.Username,
		PlanID:      subscription.PlanID(row.PlanID),
		Amount:      row.Amount,
		DisplayName: row.DisplayName,
		Evidence: notify.Evidence{
			Kind:     notify.EvidenceKind(row.EvidenceKind),
			FileID:   row.EvidenceFileID,
			UniqueID: row.EvidenceUniqueID,
		},
		Fingerprint:   row.Fingerprint,
		Status:        approval.Status(row.Status),
		DecidedBy:     row.DecidedBy,
		DecidedByName: row.DecidedByName,
		DecidedAt:     row.DecidedAt,
		CreatedAt:     row.CreatedAt,
	}
	for _, d := range row.Deliveries {
		req.Deliveries = append(req.Deliveries, notify.MessageRef{ChatID: d.ChatID, MessageID: d.MessageID, Caption: d.Caption})
	}
	return req
}
