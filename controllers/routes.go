package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/models"
)

// Routes bundles the API controllers and the authenticator guarding them
type Routes struct {
	Auth          *middleware.Authenticator
	Users         *UserController
	Orders        *OrderController
	Notifications *NotificationController
	Rewards       *RewardController
	EventRequests *EventRequestController
	Socket        *SocketController
}

// Register mounts every API route on rg
func (r *Routes) Register(rg *gin.RouterGroup) {
	optional := middleware.Authenticate(r.Auth, false)
	required := middleware.Authenticate(r.Auth, true)
	staffOnly := middleware.RequireRoles(models.RoleStaff, models.RoleAdmin)

	users := rg.Group("/users", required)
	{
		users.GET("/me", r.Users.GetMyProfile)
		users.PUT("/me", r.Users.UpdateMyProfile)
	}

	orders := rg.Group("/orders")
	{
		orders.POST("", optional, r.Orders.CreateOrder)
		orders.GET("", required, r.Orders.ListOrders)
		orders.GET("/:id", required, r.Orders.GetOrder)
		orders.PUT("/:id/status", required, staffOnly, r.Orders.UpdateStatus)
		orders.POST("/:id/verify-payment", required, staffOnly, r.Orders.VerifyPayment)
		orders.POST("/:id/payment-failed", required, r.Orders.ReportPaymentFailed)
		orders.POST("/:id/receipt", required, r.Orders.UploadReceipt)
		orders.GET("/:id/receipt", required, staffOnly, r.Orders.GetReceipt)
	}

	notifications := rg.Group("/notifications", required)
	{
		notifications.GET("", r.Notifications.ListNotifications)
		notifications.PUT("/:id/read", r.Notifications.MarkRead)
	}

	rewards := rg.Group("/rewards", required)
	{
		rewards.POST("/redemptions", middleware.RequireRoles(models.RoleCustomer), r.Rewards.RedeemReward)
		rewards.POST("/claims/:code", staffOnly, r.Rewards.ClaimReward)
	}

	rg.POST("/event-requests", optional, r.EventRequests.CreateEventRequest)

	if r.Socket != nil {
		rg.GET("/ws", r.Socket.Connect)
	}
}
