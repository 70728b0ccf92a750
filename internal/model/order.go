package model

import (
	"time"
)

const (
	OrderStatusCreated         = "CREATED"
	OrderStatusDebited         = "DEBITED"
	OrderStatusDispatched      = "DISPATCHED"
	OrderStatusProcessing      = "PROCESSING"
	OrderStatusPendingProvider = "PENDING_PROVIDER"
	OrderStatusSucceeded       = "SUCCEEDED"
	OrderStatusFailed          = "FAILED"
	OrderStatusRefunded        = "REFUNDED"
	OrderStatusRejected        = "REJECTED"
)

// ValidStatusTransitions is the order lifecycle DAG. Terminal states have no
// outgoing edges; FAILED keeps a single edge to REFUNDED so the refund
// decision can still execute after the failure is recorded.
var ValidStatusTransitions = map[string][]string{
	OrderStatusCreated:         {OrderStatusDebited, OrderStatusRejected},
	OrderStatusDebited:         {OrderStatusDispatched, OrderStatusPendingProvider, OrderStatusFailed},
	OrderStatusDispatched:      {OrderStatusProcessing, OrderStatusPendingProvider, OrderStatusSucceeded, OrderStatusFailed},
	OrderStatusProcessing:      {OrderStatusPendingProvider, OrderStatusSucceeded, OrderStatusFailed},
	OrderStatusPendingProvider: {OrderStatusProcessing, OrderStatusSucceeded, OrderStatusFailed},
	OrderStatusFailed:          {OrderStatusRefunded},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
// FAILED is terminal only when the refund decision already ran (or policy
// held the order for operator review); the engine decides that, not the DAG.
func IsTerminal(status string) bool {
	switch status {
	case OrderStatusSucceeded, OrderStatusRefunded, OrderStatusRejected:
		return true
	}
	return false
}

// Observed provider statuses as normalized at the intake boundary. The string
// table in the webhook package is the only place raw provider text is mapped.
const (
	ObservedSuccess    = "success"
	ObservedFailed     = "failed"
	ObservedProcessing = "processing"
	ObservedPending    = "pending"
	ObservedRefunded   = "refunded"
	ObservedUnknown    = "unknown"
)

type Order struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderRef        string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"provider_ref"`
	UserID             string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	ProductCode        string    `gorm:"type:varchar(32);not null" json:"product_code"`
	ProductName        string    `gorm:"type:varchar(128);not null" json:"product_name"` // snapshot at order time
	Price              int64     `gorm:"not null" json:"price"`                          // snapshot at order time, minor units
	CustomerInput      string    `gorm:"type:varchar(64);not null" json:"customer_input"`
	Status             string    `gorm:"type:varchar(20);index;not null" json:"status"`
	StatusRefund       int       `gorm:"not null;default:0" json:"status_refund"` // 0→1 exactly once when the refund decision executes
	SN                 string    `gorm:"type:varchar(128)" json:"sn"`             // fulfillment serial, empty until reported
	Note               string    `gorm:"type:varchar(512)" json:"note"`           // last human-readable provider message
	LastNotifiedStatus string    `gorm:"type:varchar(20)" json:"last_notified_status"`
	CreatedAt          time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
