package services

import (
	"context"
	"mime/multipart"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/kendall-kelly/cafe-orders-api/utils"
	"github.com/sirupsen/logrus"
)

// transitions lists the allowed targets for each non-terminal status.
// Re-entering the current status is not a transition.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:             {models.StatusPreparing, models.StatusReady, models.StatusCancelled},
	models.StatusPendingVerification: {models.StatusPreparing, models.StatusReady, models.StatusCancelled},
	models.StatusConfirmed:           {models.StatusPreparing, models.StatusReady, models.StatusCancelled},
	models.StatusPreparing:           {models.StatusReady, models.StatusCancelled},
	models.StatusReady:               {models.StatusCompleted, models.StatusCancelled},
}

// CheckTransition validates a status edge against the transition table.
func CheckTransition(orderID string, from, to models.OrderStatus) error {
	if from.IsTerminal() {
		return NewTerminalState(orderID, from)
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return NewInvalidTransition(orderID, from, to)
}

// LineItemRequest is one requested menu item in a new order
type LineItemRequest struct {
	MenuItemID uint `json:"menu_item_id" validate:"required"`
	Quantity   int  `json:"quantity" validate:"required,gt=0,lte=50"`
}

// PlaceOrderInput is the order-entry payload
type PlaceOrderInput struct {
	OrderType     models.OrderType  `json:"order_type" validate:"required,oneof=dine_in takeout"`
	TableNumber   *int              `json:"table_number" validate:"omitempty,gt=0"`
	Items         []LineItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string            `json:"payment_method" validate:"omitempty,oneof=cash card gcash paymaya"`
	CustomerEmail string            `json:"customer_email" validate:"omitempty,email"`
}

// OrderEngine owns every mutation of an order: creation, status
// transitions and the payment dimension.
type OrderEngine struct {
	store    OrderStore
	menu     MenuCatalog
	receipts ReceiptStorage
	events   EventPublisher
	validate *validator.Validate
	nowFunc  func() time.Time
}

// NewOrderEngine wires the engine to its collaborators
func NewOrderEngine(store OrderStore, menu MenuCatalog, receipts ReceiptStorage, events EventPublisher) *OrderEngine {
	return &OrderEngine{
		store:    store,
		menu:     menu,
		receipts: receipts,
		events:   events,
		validate: validator.New(),
		nowFunc:  time.Now,
	}
}

// Store exposes the underlying order store for read paths.
func (e *OrderEngine) Store() OrderStore {
	return e.store
}

// PlaceOrder snapshots menu prices into a new pending order.
func (e *OrderEngine) PlaceOrder(ctx context.Context, in PlaceOrderInput, actor Actor) (*models.Order, error) {
	if err := e.validate.Struct(in); err != nil {
		return nil, NewValidation("", err.Error())
	}
	if in.OrderType == models.OrderTypeDineIn && in.TableNumber == nil {
		return nil, NewValidation("table_number", "is required for dine-in orders")
	}
	if in.OrderType == models.OrderTypeTakeout && in.TableNumber != nil {
		return nil, NewValidation("table_number", "must be empty for takeout orders")
	}

	ids := make([]uint, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.MenuItemID)
	}
	menu, err := e.menu.Snapshot(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]models.LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		m, ok := menu[it.MenuItemID]
		if !ok {
			return nil, NewValidation("items", "menu item is unavailable")
		}
		items = append(items, models.LineItem{
			MenuItemID: m.ID,
			Name:       m.Name,
			UnitPrice:  m.Price,
			Quantity:   it.Quantity,
		})
	}

	order := &models.Order{
		ID:            uuid.NewString(),
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
		OrderType:     in.OrderType,
		TableNumber:   in.TableNumber,
		Items:         items,
		TotalPrice:    models.TotalOf(items),
	}
	if in.PaymentMethod != "" {
		method := in.PaymentMethod
		order.PaymentMethod = &method
	}

	switch actor.Role {
	case models.RoleCustomer:
		order.CustomerID = actor.UserID
		if actor.Email != "" {
			email := strings.ToLower(actor.Email)
			order.CustomerEmail = &email
		}
	case models.RoleStaff, models.RoleAdmin:
		order.StaffID = actor.UserID
	}
	// A typed-in email is a contact address only; ownership follows the account.
	if order.CustomerEmail == nil && in.CustomerEmail != "" {
		email := strings.ToLower(in.CustomerEmail)
		order.CustomerEmail = &email
	}

	if err := e.store.Create(ctx, order); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"actor":    actor.ID,
		"total":    order.TotalPrice,
	}).Info("Order placed")

	e.events.PublishOrderPlaced(OrderPlaced{Order: *order, At: e.nowFunc()})
	return order, nil
}

// Transition moves an order to target. Only staff, admins and the system
// actor may call it. The write is conditional on the status that was read,
// so a concurrent transition makes this call fail with ConflictError.
func (e *OrderEngine) Transition(ctx context.Context, orderID string, target models.OrderStatus, actor Actor) (*models.Order, error) {
	if !actor.IsStaff() {
		return nil, NewForbidden("only staff can change order status")
	}

	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(orderID, order.Status, target); err != nil {
		return nil, err
	}

	now := e.nowFunc()
	changes := Changes{Status: &target}
	if target == models.StatusPreparing && order.PreparingAt == nil {
		changes.PreparingAt = &now
	}
	if order.StaffID == nil && actor.Role != models.RoleSystem && actor.UserID != nil {
		changes.StaffID = actor.UserID
	}

	updated, err := e.store.CompareAndSwap(ctx, orderID, Expect{Status: order.Status}, changes)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"from":     order.Status,
		"to":       target,
		"actor":    actor.ID,
	}).Info("Order status changed")

	e.events.PublishStatusChanged(StatusChanged{
		OrderID:  orderID,
		From:     order.Status,
		To:       target,
		Actor:    actor,
		Snapshot: *updated,
		At:       now,
	})
	return updated, nil
}

// VerifyPayment marks payment as paid and, when the order has not reached
// the kitchen yet, advances it to preparing in the same conditional write.
func (e *OrderEngine) VerifyPayment(ctx context.Context, orderID, method string, actor Actor) (*models.Order, error) {
	if !actor.IsStaff() {
		return nil, NewForbidden("only staff can verify payments")
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if !validPaymentMethod(method) {
		return nil, NewValidation("method", "must be one of cash, card, gcash, paymaya")
	}

	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, NewTerminalState(orderID, order.Status)
	}
	if !order.PaymentStatus.Verifiable() {
		return nil, NewInvalidPaymentTransition(orderID, order.PaymentStatus, models.PaymentPaid)
	}

	now := e.nowFunc()
	paid := models.PaymentPaid
	verifiedBy := actor.ID
	changes := Changes{
		PaymentStatus: &paid,
		PaymentMethod: &method,
		VerifiedBy:    &verifiedBy,
		VerifiedAt:    &now,
	}

	advance := order.Status.AwaitingPreparation()
	if advance {
		preparing := models.StatusPreparing
		changes.Status = &preparing
		if order.PreparingAt == nil {
			changes.PreparingAt = &now
		}
		if order.StaffID == nil && actor.UserID != nil {
			changes.StaffID = actor.UserID
		}
	}

	updated, err := e.store.CompareAndSwap(ctx, orderID,
		Expect{Status: order.Status, PaymentStatus: order.PaymentStatus}, changes)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"method":   method,
		"actor":    actor.ID,
		"advanced": advance,
	}).Info("Payment verified")

	e.events.PublishPaymentChanged(PaymentChanged{
		OrderID:  orderID,
		From:     order.PaymentStatus,
		To:       paid,
		Actor:    actor,
		Snapshot: *updated,
		At:       now,
	})
	if advance {
		e.events.PublishStatusChanged(StatusChanged{
			OrderID:  orderID,
			From:     order.Status,
			To:       models.StatusPreparing,
			Actor:    actor,
			Snapshot: *updated,
			At:       now,
		})
	}
	return updated, nil
}

// ReportPaymentFailed records an abandoned or declined payment. The placing
// customer, the guest token holder and staff may report it.
func (e *OrderEngine) ReportPaymentFailed(ctx context.Context, orderID string, actor Actor) (*models.Order, error) {
	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(order) {
		return nil, NewForbidden("you cannot update this order")
	}
	if order.Status.IsTerminal() {
		return nil, NewTerminalState(orderID, order.Status)
	}
	if !order.PaymentStatus.Verifiable() {
		return nil, NewInvalidPaymentTransition(orderID, order.PaymentStatus, models.PaymentFailed)
	}

	failed := models.PaymentFailed
	updated, err := e.store.CompareAndSwap(ctx, orderID,
		Expect{Status: order.Status, PaymentStatus: order.PaymentStatus},
		Changes{PaymentStatus: &failed})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"actor":    actor.ID,
	}).Info("Payment reported failed")

	e.events.PublishPaymentChanged(PaymentChanged{
		OrderID:  orderID,
		From:     order.PaymentStatus,
		To:       failed,
		Actor:    actor,
		Snapshot: *updated,
		At:       e.nowFunc(),
	})
	return updated, nil
}

// SubmitReceipt stores a digital-payment receipt and moves the order and its
// payment to pending_verification for staff review.
func (e *OrderEngine) SubmitReceipt(ctx context.Context, orderID string, file *multipart.FileHeader, actor Actor) (*models.Order, error) {
	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(order) {
		return nil, NewForbidden("only the customer who placed the order can upload a receipt")
	}
	if order.PaymentMethod == nil || !models.IsDigitalPayment(*order.PaymentMethod) {
		return nil, NewValidation("receipt", "receipts are only accepted for gcash or paymaya payments")
	}
	if order.Status.IsTerminal() {
		return nil, NewTerminalState(orderID, order.Status)
	}
	if !order.PaymentStatus.Verifiable() {
		return nil, NewInvalidPaymentTransition(orderID, order.PaymentStatus, models.PaymentPendingVerification)
	}

	if err := utils.ValidateReceiptFile(file); err != nil {
		return nil, err
	}

	key, err := e.receipts.UploadReceipt(ctx, orderID, file)
	if err != nil {
		return nil, err
	}

	pendingPayment := models.PaymentPendingVerification
	changes := Changes{PaymentStatus: &pendingPayment, ReceiptKey: &key}
	moved := order.Status == models.StatusPending
	if moved {
		pendingStatus := models.StatusPendingVerification
		changes.Status = &pendingStatus
	}

	updated, err := e.store.CompareAndSwap(ctx, orderID,
		Expect{Status: order.Status, PaymentStatus: order.PaymentStatus}, changes)
	if err != nil {
		if delErr := e.receipts.DeleteReceipt(ctx, key); delErr != nil {
			logger.Get().WithError(delErr).WithField("order_id", orderID).Warn("Failed to remove orphaned receipt")
		}
		return nil, err
	}

	now := e.nowFunc()
	logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"actor":    actor.ID,
	}).Info("Payment receipt submitted")

	e.events.PublishPaymentChanged(PaymentChanged{
		OrderID:  orderID,
		From:     order.PaymentStatus,
		To:       pendingPayment,
		Actor:    actor,
		Snapshot: *updated,
		At:       now,
	})
	if moved {
		e.events.PublishStatusChanged(StatusChanged{
			OrderID:  orderID,
			From:     order.Status,
			To:       models.StatusPendingVerification,
			Actor:    actor,
			Snapshot: *updated,
			At:       now,
		})
	}
	return updated, nil
}

// ReceiptURL returns a short-lived link to the order's receipt for verifiers.
func (e *OrderEngine) ReceiptURL(ctx context.Context, orderID string, actor Actor) (string, error) {
	if !actor.IsStaff() {
		return "", NewForbidden("only staff can view payment receipts")
	}
	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.ReceiptKey == nil || *order.ReceiptKey == "" {
		return "", NewReceiptNotFound(orderID)
	}
	return e.receipts.PresignedURL(ctx, *order.ReceiptKey)
}

// Views decorates orders with live queue positions computed from the
// current active queue.
func (e *OrderEngine) Views(ctx context.Context, orders []models.Order) ([]OrderView, error) {
	queue, err := e.store.ActiveQueue(ctx)
	if err != nil {
		return nil, err
	}
	return NewOrderViews(orders, QueuePositions(queue)), nil
}

func validPaymentMethod(method string) bool {
	switch method {
	case models.PaymentMethodCash, models.PaymentMethodCard, models.PaymentMethodGCash, models.PaymentMethodPayMaya:
		return true
	}
	return false
}
