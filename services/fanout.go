package services

import (
	"time"

	"github.com/kendall-kelly/cafe-orders-api/models"
)

// Real-time event names
const (
	EventOrderCreated    = "order-created"
	EventOrderUpdated    = "order-updated"
	EventPaymentUpdated  = "payment-updated"
	EventOrdersChanged   = "orders-changed"
	EventNewNotification = "new-notification"
)

// OrderEventPayload is the body of order-updated and payment-updated events.
type OrderEventPayload struct {
	Type          string               `json:"type"`
	OrderID       string               `json:"orderId"`
	ShortCode     string               `json:"shortCode"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
	From          string               `json:"from,omitempty"`
	To            string               `json:"to,omitempty"`
	Order         models.Order         `json:"order"`
	Timestamp     time.Time            `json:"timestamp"`
}

// OrdersChangedPayload tells list views to refetch.
type OrdersChangedPayload struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderGroups returns every audience of an order: admin, staff, the order
// watchers and the placing customer when one can be resolved.
func OrderGroups(order models.Order) []string {
	groups := []string{GroupAdmin, GroupStaff, OrderGroup(order.ID)}
	if key := order.CustomerGroupKey(); key != "" {
		groups = append(groups, CustomerGroup(key))
	}
	return groups
}

// OrderFanout pushes committed order events to every audience.
type OrderFanout struct {
	broadcaster Broadcaster
}

// NewOrderFanout creates a fan-out subscriber
func NewOrderFanout(b Broadcaster) *OrderFanout {
	return &OrderFanout{broadcaster: b}
}

func (f *OrderFanout) OnOrderPlaced(e OrderPlaced) {
	f.broadcaster.Broadcast(EventOrderCreated, OrderEventPayload{
		Type:          EventOrderCreated,
		OrderID:       e.Order.ID,
		ShortCode:     e.Order.ShortCode(),
		Status:        e.Order.Status,
		PaymentStatus: e.Order.PaymentStatus,
		Order:         e.Order,
		Timestamp:     e.At,
	}, OrderGroups(e.Order)...)
	f.changed(EventOrderCreated, e.Order.ID, e.At)
}

func (f *OrderFanout) OnStatusChanged(e StatusChanged) {
	f.broadcaster.Broadcast(EventOrderUpdated, OrderEventPayload{
		Type:          EventOrderUpdated,
		OrderID:       e.OrderID,
		ShortCode:     e.Snapshot.ShortCode(),
		Status:        e.Snapshot.Status,
		PaymentStatus: e.Snapshot.PaymentStatus,
		From:          string(e.From),
		To:            string(e.To),
		Order:         e.Snapshot,
		Timestamp:     e.At,
	}, OrderGroups(e.Snapshot)...)
	f.changed(EventOrderUpdated, e.OrderID, e.At)
}

func (f *OrderFanout) OnPaymentChanged(e PaymentChanged) {
	f.broadcaster.Broadcast(EventPaymentUpdated, OrderEventPayload{
		Type:          EventPaymentUpdated,
		OrderID:       e.OrderID,
		ShortCode:     e.Snapshot.ShortCode(),
		Status:        e.Snapshot.Status,
		PaymentStatus: e.Snapshot.PaymentStatus,
		From:          string(e.From),
		To:            string(e.To),
		Order:         e.Snapshot,
		Timestamp:     e.At,
	}, OrderGroups(e.Snapshot)...)
	f.changed(EventPaymentUpdated, e.OrderID, e.At)
}

func (f *OrderFanout) changed(cause, orderID string, at time.Time) {
	f.broadcaster.BroadcastAll(EventOrdersChanged, OrdersChangedPayload{
		Type:      cause,
		OrderID:   orderID,
		Timestamp: at,
	})
}
