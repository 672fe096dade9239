package services

import (
	"errors"
	"fmt"

	"github.com/kendall-kelly/cafe-orders-api/models"
)

// Error codes returned to API clients
const (
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeTerminalState        = "TERMINAL_STATE"
	CodeOrderConflict        = "ORDER_CONFLICT"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodeReceiptNotFound      = "RECEIPT_NOT_FOUND"
	CodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	CodeForbidden            = "FORBIDDEN"
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotificationDelivery = "NOTIFICATION_DELIVERY_FAILED"
)

// ErrDuplicateNotification is returned when a daily alert was already
// stored for its day, possibly by another replica.
var ErrDuplicateNotification = errors.New("notification already sent for this day")

// InvalidTransitionError is returned for an edge the transition table does not allow.
// Dimension is "status" or "payment".
type InvalidTransitionError struct {
	Code      string
	OrderID   string
	Dimension string
	Current   string
	Requested string
}

func NewInvalidTransition(orderID string, from, to models.OrderStatus) *InvalidTransitionError {
	return &InvalidTransitionError{
		Code:      CodeInvalidTransition,
		OrderID:   orderID,
		Dimension: "status",
		Current:   string(from),
		Requested: string(to),
	}
}

func NewInvalidPaymentTransition(orderID string, from, to models.PaymentStatus) *InvalidTransitionError {
	return &InvalidTransitionError{
		Code:      CodeInvalidTransition,
		OrderID:   orderID,
		Dimension: "payment",
		Current:   string(from),
		Requested: string(to),
	}
}

func (e *InvalidTransitionError) Error() string {
	if e.Dimension == "payment" {
		return fmt.Sprintf("cannot change payment from %s to %s", e.Current, e.Requested)
	}
	return fmt.Sprintf("cannot move order from %s to %s", e.Current, e.Requested)
}

// TerminalStateError is returned when the order is already completed or cancelled.
type TerminalStateError struct {
	Code    string
	OrderID string
	Status  models.OrderStatus
}

func NewTerminalState(orderID string, status models.OrderStatus) *TerminalStateError {
	return &TerminalStateError{Code: CodeTerminalState, OrderID: orderID, Status: status}
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("order is already %s", e.Status)
}

// ConflictError is returned when a compare-and-swap lost a race.
// Callers re-fetch the order before deciding whether to retry.
type ConflictError struct {
	Code    string
	OrderID string
}

func NewConflict(orderID string) *ConflictError {
	return &ConflictError{Code: CodeOrderConflict, OrderID: orderID}
}

func (e *ConflictError) Error() string {
	return "this order was just updated, refreshing…"
}

// NotFoundError is returned for an unknown order, receipt or notification.
type NotFoundError struct {
	Code     string
	Resource string
	ID       string
}

func NewNotFound(orderID string) *NotFoundError {
	return &NotFoundError{Code: CodeOrderNotFound, Resource: "order", ID: orderID}
}

func NewReceiptNotFound(orderID string) *NotFoundError {
	return &NotFoundError{Code: CodeReceiptNotFound, Resource: "receipt", ID: orderID}
}

func NewNotificationNotFound(id string) *NotFoundError {
	return &NotFoundError{Code: CodeNotificationNotFound, Resource: "notification", ID: id}
}

func (e *NotFoundError) Error() string {
	if e.Resource == "receipt" {
		return fmt.Sprintf("no receipt uploaded for order %s", e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ForbiddenError is returned when the actor's role may not perform the operation.
type ForbiddenError struct {
	Code    string
	Message string
}

func NewForbidden(message string) *ForbiddenError {
	return &ForbiddenError{Code: CodeForbidden, Message: message}
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

// ValidationError reports malformed input.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Code: CodeValidation, Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NotificationDeliveryError wraps a failed persist, push or email.
// It is logged and never returned to the caller that triggered the notification.
type NotificationDeliveryError struct {
	Code    string
	Stage   string // persist, push or email
	Type    models.NotificationType
	OrderID string
	Err     error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("notification %s %s failed: %v", e.Type, e.Stage, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error {
	return e.Err
}
