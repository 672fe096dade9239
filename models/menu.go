package models

import (
	"time"

	"gorm.io/gorm"
)

// MenuItem is maintained by the menu management service; this API only reads
// it to snapshot names and prices into new orders.
type MenuItem struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Price     float64        `gorm:"not null" json:"price"`
	Available bool           `gorm:"not null;default:true" json:"available"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the MenuItem model
func (MenuItem) TableName() string {
	return "menu_items"
}

// InventoryItem tracks stock levels; read by the low-stock alert sweep.
type InventoryItem struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"not null" json:"name"`
	Quantity          float64   `gorm:"not null" json:"quantity"`
	Unit              string    `json:"unit"`
	LowThreshold      float64   `gorm:"not null" json:"low_threshold"`
	CriticalThreshold float64   `gorm:"not null" json:"critical_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName specifies the table name for the InventoryItem model
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// StockLevel classifies the current quantity against the thresholds.
// Returns "" when stock is healthy.
func (i InventoryItem) StockLevel() NotificationType {
	switch {
	case i.Quantity <= i.CriticalThreshold:
		return NotificationLowStockCritical
	case i.Quantity <= i.LowThreshold:
		return NotificationLowStockLow
	}
	return ""
}
