package model

import (
	"time"
)

const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// Notification is an outbox row written in the same DB transaction as the
// order transition it announces. A background sender delivers it to the chat
// front-end; delivery is best-effort with retries and per-status dedup via
// orders.last_notified_status.
type Notification struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"type:varchar(64);index;not null" json:"user_id"` // chat ID
	ProviderRef string    `gorm:"type:varchar(32);index;not null" json:"provider_ref"`
	OrderStatus string    `gorm:"type:varchar(20);not null" json:"order_status"`
	Payload     string    `gorm:"type:text;not null" json:"payload"` // composed message, JSON
	Status      string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount  int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
