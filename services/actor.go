package services

import (
	"github.com/kendall-kelly/cafe-orders-api/models"
)

// Actor is the resolved caller of an operation.
type Actor struct {
	ID      string // auth0 subject, "guest:<orderID>" or "system"
	UserID  *uint  // set for registered users
	Role    string
	Email   string
	OrderID string // set for guests holding an order token
}

// SystemActor is used by background reconciliation.
var SystemActor = Actor{ID: models.RoleSystem, Role: models.RoleSystem}

// GuestActor builds the actor for a holder of a valid guest order token.
func GuestActor(orderID string) Actor {
	return Actor{ID: "guest:" + orderID, Role: models.RoleGuest, OrderID: orderID}
}

// IsStaff reports whether the actor may drive the order lifecycle.
func (a Actor) IsStaff() bool {
	return a.Role == models.RoleStaff || a.Role == models.RoleAdmin || a.Role == models.RoleSystem
}

// IsAdmin reports whether the actor is an admin.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Owns reports whether the actor placed the order, either as the signed-in
// customer account or as the guest holding its token. The stored email is
// free text on guest orders and never confers ownership.
func (a Actor) Owns(order *models.Order) bool {
	switch a.Role {
	case models.RoleCustomer:
		return a.UserID != nil && order.CustomerID != nil && *a.UserID == *order.CustomerID
	case models.RoleGuest:
		return a.OrderID != "" && a.OrderID == order.ID
	}
	return false
}

// CanView reports whether the actor may read the order.
func (a Actor) CanView(order *models.Order) bool {
	return a.IsStaff() || a.Owns(order)
}
