package model

import (
	"time"
)

const (
	ProductStatusActive     = "ACTIVE"
	ProductStatusDisrupted  = "DISRUPTED"
	ProductStatusOutOfStock = "OUT_OF_STOCK"
	ProductStatusInactive   = "INACTIVE"
)

// Product is a catalog entry. Only the catalog importer writes this table;
// the engine snapshots name and price onto the order at purchase time.
type Product struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Name        string    `gorm:"type:varchar(128);not null" json:"name"`
	Price       int64     `gorm:"not null" json:"price"` // minor units
	Status      string    `gorm:"type:varchar(20);index;not null" json:"status"`
	Category    string    `gorm:"type:varchar(64);index" json:"category"`
	ProviderTag string    `gorm:"type:varchar(64)" json:"provider_tag"`
	TargetHint  string    `gorm:"type:varchar(128)" json:"target_hint"` // regexp the customer input must match, empty = any
	StockHint   string    `gorm:"type:varchar(64)" json:"stock_hint"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}
