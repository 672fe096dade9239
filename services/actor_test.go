package services

import (
	"testing"

	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/stretchr/testify/assert"
)

func TestActorAccess(t *testing.T) {
	customerID := uint(3)
	otherID := uint(4)
	email := "ana@example.com"
	order := &models.Order{ID: "o1", CustomerID: &customerID, CustomerEmail: &email}
	guestOrder := &models.Order{ID: "g1"}
	claimedOrder := &models.Order{ID: "g2", CustomerEmail: &email}

	tests := []struct {
		name     string
		actor    Actor
		order    *models.Order
		wantOwns bool
		wantView bool
	}{
		{"Placing customer", Actor{UserID: &customerID, Role: models.RoleCustomer}, order, true, true},
		{"Same email, other account", Actor{UserID: &otherID, Role: models.RoleCustomer, Email: "ANA@example.com"}, order, false, false},
		{"Guest order naming the customer's email", Actor{UserID: &customerID, Role: models.RoleCustomer, Email: email}, claimedOrder, false, false},
		{"Other customer", Actor{UserID: &otherID, Role: models.RoleCustomer, Email: "ben@example.com"}, order, false, false},
		{"Guest with the token", GuestActor("g1"), guestOrder, true, true},
		{"Guest with another token", GuestActor("g2"), guestOrder, false, false},
		{"Staff", Actor{Role: models.RoleStaff}, order, false, true},
		{"Admin", Actor{Role: models.RoleAdmin}, guestOrder, false, true},
		{"System", SystemActor, order, false, true},
		{"Anonymous", Actor{}, guestOrder, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOwns, tt.actor.Owns(tt.order))
			assert.Equal(t, tt.wantView, tt.actor.CanView(tt.order))
		})
	}

	assert.True(t, SystemActor.IsStaff())
	assert.False(t, SystemActor.IsAdmin())
}
