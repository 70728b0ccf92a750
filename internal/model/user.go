package model

import (
	"time"
)

// User is a chat user identified by the stable external chat ID. The row also
// carries the wallet balance; every balance change is paired with a
// wallet_transactions append in the same DB transaction.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"chat_id"`
	Username  string    `gorm:"type:varchar(64)" json:"username"`
	FullName  string    `gorm:"type:varchar(128)" json:"full_name"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"` // minor units, never negative
	Version   int       `gorm:"not null;default:0" json:"version"` // optimistic lock for debits
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
