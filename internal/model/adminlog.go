package model

import (
	"time"
)

const (
	AdminActionTopupApprove   = "TOPUP_APPROVE"
	AdminActionTopupReject    = "TOPUP_REJECT"
	AdminActionCatalogRefresh = "CATALOG_REFRESH"
	AdminActionAdjustment     = "ADJUSTMENT"
)

// AdminLog records operator actions for later inspection.
type AdminLog struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OperatorID string    `gorm:"type:varchar(64);index;not null" json:"operator_id"`
	Action     string    `gorm:"type:varchar(32);not null" json:"action"`
	TargetRef  string    `gorm:"type:varchar(64)" json:"target_ref"` // topup id, provider ref, ...
	Detail     string    `gorm:"type:varchar(256)" json:"detail"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AdminLog) TableName() string {
	return "admin_logs"
}
