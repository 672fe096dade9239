package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/kendall-kelly/cafe-orders-api/services"
)

// UpdateStatusRequest represents the request body for changing an order's status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// VerifyPaymentRequest represents the request body for verifying a payment
type VerifyPaymentRequest struct {
	Method string `json:"method" binding:"required"`
}

// OrderController serves the order lifecycle endpoints
type OrderController struct {
	engine *services.OrderEngine
	guests *services.GuestTokens
}

// NewOrderController creates an order controller
func NewOrderController(engine *services.OrderEngine, guests *services.GuestTokens) *OrderController {
	return &OrderController{engine: engine, guests: guests}
}

// CreateOrder handles POST /api/v1/orders - customers, staff and anonymous guests
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req services.PlaceOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	// A guest token belongs to one order; placing another starts a new guest.
	actor, authenticated := middleware.GetActor(c)
	if !authenticated || actor.Role == models.RoleGuest {
		actor = services.Actor{ID: "guest", Role: models.RoleGuest}
	}

	order, err := oc.engine.PlaceOrder(c.Request.Context(), req, actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	views, err := oc.engine.Views(c.Request.Context(), []models.Order{*order})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	data := gin.H{"order": views[0]}
	if actor.Role == models.RoleGuest {
		token, expires, err := oc.guests.Issue(order.ID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		data["guest_token"] = token
		data["guest_token_expires_at"] = expires
	}

	respondData(c, http.StatusCreated, data)
}

// ListOrders handles GET /api/v1/orders. Staff see every order, customers
// their own, guests only the order their token grants.
func (oc *OrderController) ListOrders(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	filter, err := parseOrderFilter(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	var orders []models.Order
	switch {
	case actor.IsStaff():
		orders, err = oc.engine.Store().List(c.Request.Context(), filter)
	case actor.Role == models.RoleCustomer && actor.UserID != nil:
		filter.CustomerID = actor.UserID
		orders, err = oc.engine.Store().List(c.Request.Context(), filter)
	case actor.Role == models.RoleGuest:
		var order *models.Order
		order, err = oc.engine.Store().Get(c.Request.Context(), actor.OrderID)
		if order != nil {
			orders = []models.Order{*order}
		}
	default:
		respondServiceError(c, services.NewForbidden("you cannot list orders"))
		return
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}

	views, err := oc.engine.Views(c.Request.Context(), orders)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    views,
		"count":   len(views),
	})
}

// GetOrder handles GET /api/v1/orders/:id
func (oc *OrderController) GetOrder(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	order, err := oc.engine.Store().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !actor.CanView(order) {
		respondServiceError(c, services.NewForbidden("you do not have access to this order"))
		return
	}

	views, err := oc.engine.Views(c.Request.Context(), []models.Order{*order})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, views[0])
}

// UpdateStatus handles PUT /api/v1/orders/:id/status (staff/admin)
func (oc *OrderController) UpdateStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	target, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		respondServiceError(c, services.NewValidation("status", err.Error()))
		return
	}

	order, err := oc.engine.Transition(c.Request.Context(), c.Param("id"), target, actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	oc.respondOrder(c, order)
}

// VerifyPayment handles POST /api/v1/orders/:id/verify-payment (staff/admin)
func (oc *OrderController) VerifyPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	order, err := oc.engine.VerifyPayment(c.Request.Context(), c.Param("id"), req.Method, actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	oc.respondOrder(c, order)
}

// ReportPaymentFailed handles POST /api/v1/orders/:id/payment-failed
func (oc *OrderController) ReportPaymentFailed(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	order, err := oc.engine.ReportPaymentFailed(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	oc.respondOrder(c, order)
}

// UploadReceipt handles POST /api/v1/orders/:id/receipt (multipart field "receipt")
func (oc *OrderController) UploadReceipt(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("receipt")
	if err != nil {
		respondError(c, http.StatusBadRequest, services.CodeValidation, "No receipt file provided", err.Error())
		return
	}

	order, err := oc.engine.SubmitReceipt(c.Request.Context(), c.Param("id"), fileHeader, actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	oc.respondOrder(c, order)
}

// GetReceipt handles GET /api/v1/orders/:id/receipt (staff/admin)
func (oc *OrderController) GetReceipt(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	url, err := oc.engine.ReceiptURL(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"url": url})
}

func (oc *OrderController) respondOrder(c *gin.Context, order *models.Order) {
	views, err := oc.engine.Views(c.Request.Context(), []models.Order{*order})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, views[0])
}

func parseOrderFilter(c *gin.Context) (services.OrderFilter, error) {
	var filter services.OrderFilter

	if v := c.Query("status"); v != "" {
		s, err := models.ParseOrderStatus(v)
		if err != nil {
			return filter, services.NewValidation("status", err.Error())
		}
		filter.Status = s
	}
	if v := c.Query("payment_status"); v != "" {
		p, err := models.ParsePaymentStatus(v)
		if err != nil {
			return filter, services.NewValidation("payment_status", err.Error())
		}
		filter.PaymentStatus = p
	}
	if v := c.Query("order_type"); v != "" {
		t := models.OrderType(v)
		if t != models.OrderTypeDineIn && t != models.OrderTypeTakeout {
			return filter, services.NewValidation("order_type", "must be dine_in or takeout")
		}
		filter.OrderType = t
	}
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return filter, services.NewValidation("active", "must be true or false")
		}
		filter.ActiveOnly = active
	}

	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		return filter, err
	}
	if limit > 500 {
		limit = 500
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	filter.Offset = offset
	return filter, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, services.NewValidation(key, "must be a non-negative integer")
	}
	return n, nil
}
