package services

import (
	"sync"
	"time"

	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/sirupsen/logrus"
)

// OrderPlaced is emitted after a new order is stored.
type OrderPlaced struct {
	Order models.Order
	At    time.Time
}

// StatusChanged is emitted after a status transition commits.
type StatusChanged struct {
	OrderID  string
	From     models.OrderStatus
	To       models.OrderStatus
	Actor    Actor
	Snapshot models.Order
	At       time.Time
}

// PaymentChanged is emitted after the payment dimension changes.
type PaymentChanged struct {
	OrderID  string
	From     models.PaymentStatus
	To       models.PaymentStatus
	Actor    Actor
	Snapshot models.Order
	At       time.Time
}

// EventSubscriber reacts to committed order events. Implementations must not
// assume they run on the request goroutine.
type EventSubscriber interface {
	OnOrderPlaced(e OrderPlaced)
	OnStatusChanged(e StatusChanged)
	OnPaymentChanged(e PaymentChanged)
}

// EventPublisher is what the engine depends on to announce committed changes.
type EventPublisher interface {
	PublishOrderPlaced(e OrderPlaced)
	PublishStatusChanged(e StatusChanged)
	PublishPaymentChanged(e PaymentChanged)
}

// EventBus delivers events to each subscriber off the caller's goroutine,
// so publishing never blocks. Every subscriber sees events in the order they
// were published; a slow subscriber only delays itself. Subscriber panics
// are recovered.
type EventBus struct {
	mu            sync.RWMutex
	subscriptions []*subscription
	wg            sync.WaitGroup
}

// subscription is one subscriber's FIFO. A drain goroutine exists only
// while the queue is non-empty.
type subscription struct {
	sub EventSubscriber

	mu      sync.Mutex
	queue   []func()
	running bool
}

// NewEventBus creates a bus with the given subscribers
func NewEventBus(subscribers ...EventSubscriber) *EventBus {
	b := &EventBus{}
	for _, s := range subscribers {
		b.subscriptions = append(b.subscriptions, &subscription{sub: s})
	}
	return b
}

// Subscribe adds a subscriber for future events.
func (b *EventBus) Subscribe(s EventSubscriber) {
	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, &subscription{sub: s})
	b.mu.Unlock()
}

func (b *EventBus) PublishOrderPlaced(e OrderPlaced) {
	b.each("order_placed", e.Order.ID, func(s EventSubscriber) { s.OnOrderPlaced(e) })
}

func (b *EventBus) PublishStatusChanged(e StatusChanged) {
	b.each("status_changed", e.OrderID, func(s EventSubscriber) { s.OnStatusChanged(e) })
}

func (b *EventBus) PublishPaymentChanged(e PaymentChanged) {
	b.each("payment_changed", e.OrderID, func(s EventSubscriber) { s.OnPaymentChanged(e) })
}

// Wait blocks until every queued delivery has returned.
func (b *EventBus) Wait() {
	b.wg.Wait()
}

func (b *EventBus) each(event, orderID string, deliver func(EventSubscriber)) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subscriptions...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.wg.Add(1)
		s.enqueue(func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{
						"event":    event,
						"order_id": orderID,
						"panic":    r,
					}).Error("Event subscriber panicked")
				}
			}()
			deliver(s.sub)
		})
	}
}

func (s *subscription) enqueue(delivery func()) {
	s.mu.Lock()
	s.queue = append(s.queue, delivery)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.drain()
}

func (s *subscription) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		next()
	}
}
