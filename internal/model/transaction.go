package model

import (
	"time"
)

const (
	TransactionKindTopup      = "TOPUP"
	TransactionKindPurchase   = "PURCHASE"
	TransactionKindRefund     = "REFUND"
	TransactionKindAdjustment = "ADJUSTMENT"
)

// WalletTransaction is the append-only ledger row.
//
// Rules:
// 1. Append only, never updated or deleted.
// 2. Description carries the provider ref (purchases/refunds) or the top-up
//    request id, which is how the single-debit / single-refund invariants are
//    audited.
// 3. Balance before/after is recorded so the ledger can be cross-checked
//    against the user row at any time.
type WalletTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        string    `gorm:"type:varchar(64);index;not null" json:"user_id"` // chat ID
	Kind          string    `gorm:"type:varchar(20);not null" json:"kind"`
	Amount        int64     `gorm:"not null" json:"amount"` // signed minor units, negative for debits
	Description   string    `gorm:"type:varchar(256);index" json:"description"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
