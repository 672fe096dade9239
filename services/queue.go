package services

import (
	"sort"

	"github.com/kendall-kelly/cafe-orders-api/models"
)

// QueuePositions ranks non-terminal orders by creation time, oldest first,
// starting at 1. Ties are broken by id so the ranking is total. The result is
// never stored; every read recomputes it from the current queue.
func QueuePositions(entries []QueueEntry) map[string]int {
	sorted := append([]QueueEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	positions := make(map[string]int, len(sorted))
	for i, e := range sorted {
		positions[e.ID] = i + 1
	}
	return positions
}

// IsReadyToPrepare reports whether payment has cleared while the order still
// sits in front of the kitchen. Such orders are advanced to preparing.
func IsReadyToPrepare(order models.Order) bool {
	return order.PaymentStatus == models.PaymentPaid && order.Status.AwaitingPreparation()
}

// OrderView is an order as returned to clients, with the live fields that
// are derived on every read.
type OrderView struct {
	models.Order
	ShortCode      string `json:"short_code"`
	QueuePosition  *int   `json:"queue_position"`
	ReadyToPrepare bool   `json:"ready_to_prepare"`
}

// NewOrderViews decorates orders with the given queue positions. Terminal
// orders have no position.
func NewOrderViews(orders []models.Order, positions map[string]int) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		v := OrderView{
			Order:          o,
			ShortCode:      o.ShortCode(),
			ReadyToPrepare: IsReadyToPrepare(o),
		}
		if pos, ok := positions[o.ID]; ok {
			p := pos
			v.QueuePosition = &p
		}
		views = append(views, v)
	}
	return views
}
