package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/sirupsen/logrus"
)

const deliveryTimeout = 10 * time.Second

// NotificationPush is the body of a new-notification event.
type NotificationPush struct {
	Type         models.NotificationType `json:"type"`
	ID           string                  `json:"id"`
	Priority     string                  `json:"priority"`
	OrderID      string                  `json:"orderId,omitempty"`
	Message      string                  `json:"message"`
	TargetRole   string                  `json:"targetRole,omitempty"`
	TargetUserID *uint                   `json:"targetUserId,omitempty"`
	Timestamp    time.Time               `json:"timestamp"`
}

// EventRequest is a customer's request to book the café for an event.
type EventRequest struct {
	Name      string    `json:"name" binding:"required,max=120"`
	Email     string    `json:"email" binding:"required,email"`
	Phone     string    `json:"phone" binding:"omitempty,max=32"`
	EventDate time.Time `json:"event_date" binding:"required"`
	Guests    int       `json:"guests" binding:"required,gt=0,lte=500"`
	Notes     string    `json:"notes" binding:"max=2000"`
}

// RewardRedemption is a customer's request to redeem a loyalty reward.
type RewardRedemption struct {
	CustomerID    uint
	CustomerEmail string
	Reward        string
	ClaimCode     string
	ExpiresAt     time.Time
}

// NotificationDispatcher turns order and domain events into persisted
// notifications and pushes them to the addressed audience. Delivery is best
// effort: failures are logged as NotificationDeliveryError and never reach
// the caller whose action triggered the notification.
type NotificationDispatcher struct {
	store       NotificationStore
	broadcaster Broadcaster
	mailer      Mailer
	nowFunc     func() time.Time
}

// NewNotificationDispatcher wires a dispatcher. mailer may be nil.
func NewNotificationDispatcher(store NotificationStore, b Broadcaster, mailer Mailer) *NotificationDispatcher {
	return &NotificationDispatcher{
		store:       store,
		broadcaster: b,
		mailer:      mailer,
		nowFunc:     time.Now,
	}
}

// Dispatch persists n and pushes it to groups, or to its target role when
// no group is given. The returned error is always a *NotificationDeliveryError.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, n *models.Notification, groups ...string) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.nowFunc()
	}

	if err := d.store.Create(ctx, n); err != nil {
		if errors.Is(err, ErrDuplicateNotification) {
			return err
		}
		return d.deliveryError("persist", n, err)
	}

	if len(groups) == 0 && n.TargetRole != nil {
		groups = []string{*n.TargetRole}
	}
	if len(groups) > 0 {
		d.broadcaster.Broadcast(EventNewNotification, pushOf(n), groups...)
	}
	return nil
}

func pushOf(n *models.Notification) NotificationPush {
	p := NotificationPush{
		Type:         n.Type,
		ID:           n.ID,
		Priority:     n.Priority,
		Message:      n.Message,
		TargetUserID: n.TargetUserID,
		Timestamp:    n.CreatedAt,
	}
	if n.OrderID != nil {
		p.OrderID = *n.OrderID
	}
	if n.TargetRole != nil {
		p.TargetRole = *n.TargetRole
	}
	return p
}

func (d *NotificationDispatcher) deliveryError(stage string, n *models.Notification, err error) error {
	de := &NotificationDeliveryError{Code: CodeNotificationDelivery, Stage: stage, Type: n.Type, Err: err}
	if n.OrderID != nil {
		de.OrderID = *n.OrderID
	}
	return de
}

// report logs a delivery failure.
func (d *NotificationDispatcher) report(err error) {
	if err == nil || errors.Is(err, ErrDuplicateNotification) {
		return
	}
	fields := logrus.Fields{}
	var de *NotificationDeliveryError
	if errors.As(err, &de) {
		fields["type"] = de.Type
		fields["stage"] = de.Stage
		fields["order_id"] = de.OrderID
	}
	logger.WithFields(fields).WithError(err).Error("Notification delivery failed")
}

func (d *NotificationDispatcher) OnOrderPlaced(e OrderPlaced) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	msg := fmt.Sprintf("New %s order %s", orderTypeLabel(e.Order), e.Order.ShortCode())
	if e.Order.TableNumber != nil {
		msg += fmt.Sprintf(" for table %d", *e.Order.TableNumber)
	}
	d.report(d.Dispatch(ctx, &models.Notification{
		Type:       models.NotificationOrderStatus,
		Priority:   models.PriorityNormal,
		TargetRole: strPtr(models.RoleStaff),
		DedupKey:   "placed:" + e.Order.ID,
		OrderID:    strPtr(e.Order.ID),
		Message:    msg,
	}))
}

func (d *NotificationDispatcher) OnStatusChanged(e StatusChanged) {
	var msg string
	switch e.To {
	case models.StatusPreparing:
		msg = fmt.Sprintf("Your order %s is being prepared", e.Snapshot.ShortCode())
	case models.StatusReady:
		msg = fmt.Sprintf("Your order %s is ready", e.Snapshot.ShortCode())
	case models.StatusCancelled:
		msg = fmt.Sprintf("Your order %s was cancelled", e.Snapshot.ShortCode())
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	d.notifyCustomer(ctx, e.Snapshot, string(e.To), msg)
	if e.To == models.StatusReady {
		d.emailCustomer(ctx, e.Snapshot, "Your order is ready", msg+". Please collect it at the counter.")
	}
}

func (d *NotificationDispatcher) OnPaymentChanged(e PaymentChanged) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	switch e.To {
	case models.PaymentPendingVerification:
		d.report(d.Dispatch(ctx, &models.Notification{
			Type:       models.NotificationPaymentVerification,
			Priority:   models.PriorityHigh,
			TargetRole: strPtr(models.RoleStaff),
			DedupKey:   e.OrderID,
			OrderID:    strPtr(e.OrderID),
			Message:    fmt.Sprintf("Payment receipt for order %s is waiting for verification", e.Snapshot.ShortCode()),
		}, GroupStaff, GroupAdmin))
	case models.PaymentPaid:
		d.notifyCustomer(ctx, e.Snapshot, "paid", fmt.Sprintf("Payment for order %s was confirmed", e.Snapshot.ShortCode()))
	case models.PaymentFailed:
		d.report(d.Dispatch(ctx, &models.Notification{
			Type:       models.NotificationOrderStatus,
			Priority:   models.PriorityNormal,
			TargetRole: strPtr(models.RoleStaff),
			DedupKey:   "payment_failed:" + e.OrderID,
			OrderID:    strPtr(e.OrderID),
			Message:    fmt.Sprintf("Payment for order %s failed", e.Snapshot.ShortCode()),
		}))
	}
}

// EventRequested notifies admins of a new event booking request.
func (d *NotificationDispatcher) EventRequested(ctx context.Context, req EventRequest) {
	d.report(d.Dispatch(ctx, &models.Notification{
		Type:       models.NotificationEventRequest,
		Priority:   models.PriorityNormal,
		TargetRole: strPtr(models.RoleAdmin),
		DedupKey:   fmt.Sprintf("%s:%s", req.Email, req.EventDate.Format("2006-01-02")),
		Message: fmt.Sprintf("Event request from %s for %d guests on %s",
			req.Name, req.Guests, req.EventDate.Format("Jan 2, 2006")),
	}))
}

// RewardRedemptionRequested notifies admins that a customer wants to redeem
// a reward, quoting the claim code staff will consume.
func (d *NotificationDispatcher) RewardRedemptionRequested(ctx context.Context, r RewardRedemption) {
	d.report(d.Dispatch(ctx, &models.Notification{
		Type:       models.NotificationRewardRedemption,
		Priority:   models.PriorityNormal,
		TargetRole: strPtr(models.RoleAdmin),
		DedupKey:   r.ClaimCode,
		Message:    fmt.Sprintf("%s requested reward %q (claim code %s)", r.CustomerEmail, r.Reward, r.ClaimCode),
	}))
}

func (d *NotificationDispatcher) notifyCustomer(ctx context.Context, order models.Order, stage, msg string) {
	key := order.CustomerGroupKey()
	if key == "" {
		return
	}
	d.report(d.Dispatch(ctx, &models.Notification{
		Type:         models.NotificationOrderStatus,
		Priority:     models.PriorityNormal,
		TargetUserID: order.CustomerID,
		DedupKey:     stage + ":" + order.ID,
		OrderID:      strPtr(order.ID),
		Message:      msg,
	}, CustomerGroup(key), OrderGroup(order.ID)))
}

func (d *NotificationDispatcher) emailCustomer(ctx context.Context, order models.Order, subject, body string) {
	if d.mailer == nil || order.CustomerEmail == nil || *order.CustomerEmail == "" {
		return
	}
	if err := d.mailer.Send(ctx, *order.CustomerEmail, subject, body); err != nil {
		d.report(&NotificationDeliveryError{
			Code:    CodeNotificationDelivery,
			Stage:   "email",
			Type:    models.NotificationOrderStatus,
			OrderID: order.ID,
			Err:     err,
		})
	}
}

func orderTypeLabel(o models.Order) string {
	if o.OrderType == models.OrderTypeDineIn {
		return "dine-in"
	}
	return "takeout"
}

func strPtr(s string) *string {
	return &s
}
