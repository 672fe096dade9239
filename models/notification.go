package models

import (
	"time"
)

// NotificationType classifies a persisted notification.
type NotificationType string

const (
	NotificationEventRequest        NotificationType = "event_request"
	NotificationLowStockCritical    NotificationType = "low_stock_critical"
	NotificationLowStockLow         NotificationType = "low_stock_low"
	NotificationOrderStatus         NotificationType = "order_status"
	NotificationPaymentVerification NotificationType = "payment_verification_pending"
	NotificationRewardRedemption    NotificationType = "reward_redemption"
)

// Notification priorities
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Notification is an inbox entry addressed to a role or a specific user
type Notification struct {
	ID           string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Type         NotificationType `gorm:"type:varchar(48);not null;index:idx_notifications_dedup,priority:1;uniqueIndex:idx_notifications_daily,priority:1" json:"type"`
	Priority     string           `gorm:"type:varchar(16);not null;default:'normal'" json:"priority"`
	TargetUserID *uint            `gorm:"index" json:"target_user_id,omitempty"`
	TargetRole   *string          `gorm:"type:varchar(16);index" json:"target_role,omitempty"`
	DedupKey     string           `gorm:"type:varchar(128);index:idx_notifications_dedup,priority:2;uniqueIndex:idx_notifications_daily,priority:2" json:"dedup_key,omitempty"`
	OrderID      *string          `gorm:"type:varchar(36);index" json:"order_id,omitempty"`
	Message      string           `gorm:"type:text;not null" json:"message"`
	ReadAt       *time.Time       `json:"read_at,omitempty"`
	CreatedAt    time.Time        `gorm:"index:idx_notifications_dedup,priority:3" json:"created_at"`
	// DedupDay is set for once-per-day alerts; NULL rows never collide.
	DedupDay *string `gorm:"type:varchar(10);uniqueIndex:idx_notifications_daily,priority:3" json:"-"`
}

// TableName specifies the table name for the Notification model
func (Notification) TableName() string {
	return "notifications"
}
