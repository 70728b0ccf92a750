package model

import (
	"time"
)

const (
	TopupStatusPending  = "PENDING"
	TopupStatusApproved = "APPROVED"
	TopupStatusRejected = "REJECTED"
)

// TopupRequest is a pending wallet credit awaiting operator review. Amount
// includes the random 3-digit uniqueness tail. Once settled the row is
// immutable; the settle CAS is what makes double-approval a no-op.
type TopupRequest struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);index;not null" json:"user_id"` // chat ID
	Amount    int64     `gorm:"not null" json:"amount"`                         // requested amount + uniqueness tail
	Status    string    `gorm:"type:varchar(20);index;not null" json:"status"`
	ProofRef  string    `gorm:"type:varchar(128)" json:"proof_ref"` // transfer proof supplied by the user
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TopupRequest) TableName() string {
	return "topup_requests"
}
