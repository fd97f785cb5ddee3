package db

import "time"

// User is the entitlement record. SubscriptionEnd is text so rows written by
// older clients in other formats survive; the ledger decides how to read them.
type User struct {
	ID               uint   `gorm:"primaryKey"`
	TelegramID       int64  `gorm:"uniqueIndex"`
	FullName         string
	Username         string
	IsPremium        bool    `gorm:"default:false"`
	SubscriptionEnd  *string `gorm:"type:text"`
	SubscriptionType int     `gorm:"default:0"`
	NotifiedExpiring bool    `gorm:"default:false"` // reminder sent for the current term
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type PendingApproval struct {
	ID               uint   `gorm:"primaryKey"`
	Nonce            string `gorm:"size:32;uniqueIndex"`
	UserID           int64  `gorm:"index"`
	FullName         string
	Username         string
	PlanID           string `gorm:"size:32"`
	Amount           int64
	DisplayName      string
	EvidenceKind     string `gorm:"size:16"`
	EvidenceFileID   string
	EvidenceUniqueID string
	Fingerprint      string `gorm:"size:64;index"`
	Status           string `gorm:"size:16;index"`
	DecidedBy        int64
	DecidedByName    string
	DecidedAt        *time.Time
	CreatedAt        time.Time          `gorm:"index"`
	Deliveries       []ApprovalDelivery `gorm:"foreignKey:ApprovalID"`
}

// ApprovalDelivery is one approver's copy of a pending approval.
type ApprovalDelivery struct {
	ID         uint `gorm:"primaryKey"`
	ApprovalID uint `gorm:"index"`
	ChatID     int64
	MessageID  int
	Caption    string `gorm:"type:text"`
}
