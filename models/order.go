package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base32"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// OrderStatus is the preparation-stage dimension of an order.
type OrderStatus string

const (
	StatusPending             OrderStatus = "pending"
	StatusPendingVerification OrderStatus = "pending_verification"
	StatusConfirmed           OrderStatus = "confirmed"
	StatusPreparing           OrderStatus = "preparing"
	StatusReady               OrderStatus = "ready"
	StatusCompleted           OrderStatus = "completed"
	StatusCancelled           OrderStatus = "cancelled"

	// legacyStatusProcessing is an old spelling of StatusPreparing still found in stored rows.
	legacyStatusProcessing = "processing"
)

// ParseOrderStatus normalizes an external status string into the closed enum.
func ParseOrderStatus(value string) (OrderStatus, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == legacyStatusProcessing {
		return StatusPreparing, nil
	}
	s := OrderStatus(v)
	switch s {
	case StatusPending, StatusPendingVerification, StatusConfirmed, StatusPreparing,
		StatusReady, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown order status %q", value)
}

// IsTerminal reports whether no further transition may leave this status.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AwaitingPreparation reports whether the order has not reached the kitchen yet.
func (s OrderStatus) AwaitingPreparation() bool {
	return s == StatusPending || s == StatusPendingVerification
}

// Scan implements sql.Scanner so legacy spellings never leave the storage layer.
func (s *OrderStatus) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		*s = ""
		return nil
	default:
		return fmt.Errorf("cannot scan %T into OrderStatus", value)
	}
	parsed, err := ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer
func (s OrderStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// PaymentStatus is the settlement dimension of an order, independent of OrderStatus.
type PaymentStatus string

const (
	PaymentPending             PaymentStatus = "pending"
	PaymentPendingVerification PaymentStatus = "pending_verification"
	PaymentPaid                PaymentStatus = "paid"
	PaymentFailed              PaymentStatus = "failed"
)

// ParsePaymentStatus validates an external payment status string.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	p := PaymentStatus(strings.ToLower(strings.TrimSpace(value)))
	switch p {
	case PaymentPending, PaymentPendingVerification, PaymentPaid, PaymentFailed:
		return p, nil
	}
	return "", fmt.Errorf("unknown payment status %q", value)
}

// Verifiable reports whether staff may still confirm this payment.
func (p PaymentStatus) Verifiable() bool {
	return p == PaymentPending || p == PaymentPendingVerification
}

// OrderType distinguishes dine-in from takeout orders.
type OrderType string

const (
	OrderTypeDineIn  OrderType = "dine_in"
	OrderTypeTakeout OrderType = "takeout"
)

// Payment methods accepted at the counter or through digital wallets.
const (
	PaymentMethodCash    = "cash"
	PaymentMethodCard    = "card"
	PaymentMethodGCash   = "gcash"
	PaymentMethodPayMaya = "paymaya"
)

// IsDigitalPayment reports whether the method is settled through a wallet
// transfer that the customer proves with an uploaded receipt.
func IsDigitalPayment(method string) bool {
	return method == PaymentMethodGCash || method == PaymentMethodPayMaya
}

// LineItem is a price snapshot taken when the order was placed. It never
// references the live menu row, so later menu edits do not alter history.
type LineItem struct {
	MenuItemID uint    `json:"menu_item_id"`
	Name       string  `json:"name"`
	UnitPrice  float64 `json:"unit_price"`
	Quantity   int     `json:"quantity"`
}

// Subtotal returns unit price times quantity.
func (li LineItem) Subtotal() float64 {
	return li.UnitPrice * float64(li.Quantity)
}

// Order represents a café order and its two status dimensions
type Order struct {
	ID            string                        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CustomerID    *uint                         `gorm:"index" json:"customer_id"` // null for guest orders
	CustomerEmail *string                       `json:"customer_email,omitempty"`
	StaffID       *uint                         `gorm:"index" json:"staff_id"` // null until a staff member picks it up
	Status        OrderStatus                   `gorm:"type:varchar(32);not null;index;default:'pending'" json:"status"`
	PaymentStatus PaymentStatus                 `gorm:"type:varchar(32);not null;index;default:'pending'" json:"payment_status"`
	OrderType     OrderType                     `gorm:"type:varchar(16);not null" json:"order_type"`
	TableNumber   *int                          `json:"table_number"`
	Items         datatypes.JSONSlice[LineItem] `gorm:"not null" json:"items"`
	TotalPrice    float64                       `gorm:"not null" json:"total_price"`
	PaymentMethod *string                       `gorm:"type:varchar(16)" json:"payment_method"`
	ReceiptKey    *string                       `json:"-"`
	VerifiedBy    *string                       `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time                    `json:"verified_at,omitempty"`
	PreparingAt   *time.Time                    `json:"preparing_at,omitempty"`
	CreatedAt     time.Time                     `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time                     `json:"updated_at"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// ShortCode is the obfuscated identifier shown on receipts and displays.
func (o Order) ShortCode() string {
	return ShortCodeFor(o.ID)
}

// ShortCodeFor derives a stable "#XXXX-XXXX" code from an order id.
func ShortCodeFor(orderID string) string {
	sum := sha256.Sum256([]byte(orderID))
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:5])
	return "#" + code[:4] + "-" + code[4:8]
}

// TotalOf sums the line items, rounded to cents.
func TotalOf(items []LineItem) float64 {
	var sum float64
	for _, it := range items {
		sum += it.Subtotal()
	}
	return math.Round(sum*100) / 100
}

// IsGuest reports whether the order was placed without a customer account.
func (o Order) IsGuest() bool {
	return o.CustomerID == nil
}

// CustomerGroupKey identifies the customer's broadcast audience, preferring
// the email snapshot over the account id. Guest orders have no customer
// audience even when an email was typed in, so it is empty for them.
func (o Order) CustomerGroupKey() string {
	if o.CustomerID == nil {
		return ""
	}
	if o.CustomerEmail != nil && *o.CustomerEmail != "" {
		return strings.ToLower(*o.CustomerEmail)
	}
	return fmt.Sprintf("%d", *o.CustomerID)
}
