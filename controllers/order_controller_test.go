package controllers

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/kendall-kelly/cafe-orders-api/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	f := newOrderFixture(t)
	oc := NewOrderController(f.engine, f.guests)
	customer := customerActor(7, "Ana@Example.com")

	tests := []struct {
		name           string
		actor          *services.Actor
		requestBody    map[string]interface{}
		expectedStatus int
		expectedError  string
		checkResponse  func(t *testing.T, data map[string]interface{})
	}{
		{
			name:  "Customer places a dine-in order",
			actor: &customer,
			requestBody: map[string]interface{}{
				"order_type":   "dine_in",
				"table_number": 4,
				"items": []map[string]interface{}{
					{"menu_item_id": f.latte.ID, "quantity": 2},
					{"menu_item_id": f.muffin.ID, "quantity": 1},
				},
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, data map[string]interface{}) {
				order := data["order"].(map[string]interface{})
				assert.Equal(t, "pending", order["status"])
				assert.Equal(t, "pending", order["payment_status"])
				assert.Equal(t, 12.25, order["total_price"])
				assert.Equal(t, float64(7), order["customer_id"])
				assert.Equal(t, "ana@example.com", order["customer_email"])
				assert.NotEmpty(t, order["short_code"])
				assert.Len(t, order["items"], 2)
				assert.NotContains(t, data, "guest_token")
			},
		},
		{
			name: "Anonymous guest receives a guest token",
			requestBody: map[string]interface{}{
				"order_type":     "takeout",
				"payment_method": "gcash",
				"items":          []map[string]interface{}{{"menu_item_id": f.latte.ID, "quantity": 1}},
			},
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, data map[string]interface{}) {
				assert.NotEmpty(t, data["guest_token"])
				assert.NotEmpty(t, data["guest_token_expires_at"])
				order := data["order"].(map[string]interface{})
				assert.Nil(t, order["customer_id"])
				assert.Equal(t, "gcash", order["payment_method"])
			},
		},
		{
			name:  "Dine-in without a table is rejected",
			actor: &customer,
			requestBody: map[string]interface{}{
				"order_type": "dine_in",
				"items":      []map[string]interface{}{{"menu_item_id": f.latte.ID, "quantity": 1}},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:  "Empty order is rejected",
			actor: &customer,
			requestBody: map[string]interface{}{
				"order_type": "takeout",
				"items":      []map[string]interface{}{},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:  "Unknown menu item is rejected",
			actor: &customer,
			requestBody: map[string]interface{}{
				"order_type": "takeout",
				"items":      []map[string]interface{}{{"menu_item_id": 999, "quantity": 1}},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:  "Zero quantity is rejected",
			actor: &customer,
			requestBody: map[string]interface{}{
				"order_type": "takeout",
				"items":      []map[string]interface{}{{"menu_item_id": f.latte.ID, "quantity": 0}},
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter()
			handlers := []gin.HandlerFunc{}
			if tt.actor != nil {
				handlers = append(handlers, mockAuthMiddleware(*tt.actor))
			}
			router.POST("/orders", append(handlers, oc.CreateOrder)...)

			w := doJSON(router, http.MethodPost, "/orders", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, errorCode(t, w))
			}
			if tt.checkResponse != nil {
				response := decode(t, w)
				assert.True(t, response["success"].(bool))
				tt.checkResponse(t, response["data"].(map[string]interface{}))
			}
		})
	}
}

func TestCreateOrder_GuestTokenGrantsOrder(t *testing.T) {
	f := newOrderFixture(t)
	oc := NewOrderController(f.engine, f.guests)

	router := setupTestRouter()
	router.POST("/orders", oc.CreateOrder)

	w := doJSON(router, http.MethodPost, "/orders", map[string]interface{}{
		"order_type": "takeout",
		"items":      []map[string]interface{}{{"menu_item_id": f.latte.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	data := decode(t, w)["data"].(map[string]interface{})
	orderID := data["order"].(map[string]interface{})["id"].(string)

	granted, err := f.guests.Verify(data["guest_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, orderID, granted)
}

func TestListOrders(t *testing.T) {
	f := newOrderFixture(t)
	oc := NewOrderController(f.engine, f.guests)

	ana := customerActor(1, "ana@example.com")
	ben := customerActor(2, "ben@example.com")
	first := f.placeOrder(t, ana, "")
	second := f.placeOrder(t, ben, "")
	third := f.placeOrder(t, ana, "")

	t.Run("Staff see every order with queue positions", func(t *testing.T) {
		router := setupTestRouter()
		router.GET("/orders", mockAuthMiddleware(staffActor(10)), oc.ListOrders)

		w := doJSON(router, http.MethodGet, "/orders", nil)
		require.Equal(t, http.StatusOK, w.Code)

		response := decode(t, w)
		assert.Equal(t, float64(3), response["count"])
		orders := response["data"].([]interface{})
		positions := map[string]float64{}
		for _, o := range orders {
			m := o.(map[string]interface{})
			positions[m["id"].(string)] = m["queue_position"].(float64)
		}
		assert.Equal(t, map[string]float64{first.ID: 1, second.ID: 2, third.ID: 3}, positions)
	})

	t.Run("Customers see only their own orders", func(t *testing.T) {
		router := setupTestRouter()
		router.GET("/orders", mockAuthMiddleware(ana), oc.ListOrders)

		w := doJSON(router, http.MethodGet, "/orders", nil)
		require.Equal(t, http.StatusOK, w.Code)

		response := decode(t, w)
		assert.Equal(t, float64(2), response["count"])
		for _, o := range response["data"].([]interface{}) {
			assert.Equal(t, float64(1), o.(map[string]interface{})["customer_id"])
		}
	})

	t.Run("Guests see only the order their token grants", func(t *testing.T) {
		router := setupTestRouter()
		router.GET("/orders", mockAuthMiddleware(services.GuestActor(second.ID)), oc.ListOrders)

		w := doJSON(router, http.MethodGet, "/orders", nil)
		require.Equal(t, http.StatusOK, w.Code)

		orders := decode(t, w)["data"].([]interface{})
		require.Len(t, orders, 1)
		assert.Equal(t, second.ID, orders[0].(map[string]interface{})["id"])
	})

	t.Run("Invalid status filter is rejected", func(t *testing.T) {
		router := setupTestRouter()
		router.GET("/orders", mockAuthMiddleware(staffActor(10)), oc.ListOrders)

		w := doJSON(router, http.MethodGet, "/orders?status=baking", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
	})

	t.Run("Status filter narrows results", func(t *testing.T) {
		_, err := f.engine.Transition(t.Context(), third.ID, models.StatusPreparing, staffActor(10))
		require.NoError(t, err)

		router := setupTestRouter()
		router.GET("/orders", mockAuthMiddleware(staffActor(10)), oc.ListOrders)

		w := doJSON(router, http.MethodGet, "/orders?status=preparing", nil)
		require.Equal(t, http.StatusOK, w.Code)
		orders := decode(t, w)["data"].([]interface{})
		require.Len(t, orders, 1)
		assert.Equal(t, third.ID, orders[0].(map[string]interface{})["id"])
	})
}

func TestGetOrder(t *testing.T) {
	f := newOrderFixture(t)
	oc := NewOrderController(f.engine, f.guests)

	ana := customerActor(1, "ana@example.com")
	order := f.placeOrder(t, ana, "")

	tests := []struct {
		name           string
		actor          services.Actor
		id             string
		expectedStatus int
		expectedError  string
	}{
		{"Owner can view", ana, order.ID, http.StatusOK, ""},
		{"Staff can view", staffActor(10), order.ID, http.StatusOK, ""},
		{"Guest with token can view", services.GuestActor(order.ID), order.ID, http.StatusOK, ""},
		{"Other customer is forbidden", customerActor(2, "ben@example.com"), order.ID, http.StatusForbidden, "FORBIDDEN"},
		{"Other guest is forbidden", services.GuestActor("other"), order.ID, http.StatusForbidden, "FORBIDDEN"},
		{"Missing order", staffActor(10), "does-not-exist", http.StatusNotFound, "ORDER_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter()
			router.GET("/orders/:id", mockAuthMiddleware(tt.actor), oc.GetOrder)

			w := doJSON(router, http.MethodGet, "/orders/"+tt.id, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, errorCode(t, w))
			}
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newOrderFixture(t)
	oc := NewOrderController(f.engine, f.guests)
	staff := staffActor(10)

	router := setupTestRouter()
	router.PUT("/orders/:id/status", mockAuthMiddleware(staff), oc.UpdateStatus)

	order := f.placeOrder(t, customerActor(1, "ana@example.com"), "")

	t.Run("Pending to preparing assigns staff", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/orders/"+order.ID+"/status", map[string]string{"status": "preparing"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, "preparing", data["status"])
		assert.Equal(t, float64(10), data["staff_id"])
		assert.NotNil(t, data["preparing_at"])
	})

	t.Run("Backwards transition names both statuses", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/orders/"+order.ID+"/status", map[string]string{"status": "pending"})
		require.Equal(t, http.StatusBadRequest, w.Code)

		errData := decode(t, w)["error"].(map[string]interface{})
		assert.Equal(t, "INVALID_TRANSITION", errData["code"])
		details := errData["details"].(map[string]interface{})
		assert.Equal(t, "preparing", details["current"])
		assert.Equal(t, "pending", details["requested"])
	})

	t.Run("Unknown status is a validation error", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/orders/"+order.ID+"/status", map[string]string{"status": "baking"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
	})

	t.Run("Terminal orders cannot move", func(t *testing.T) {
		for _, s := range []string{"ready", "completed"} {
			w := doJSON(router, http.MethodPut, "/orders/"+order.ID+"/status", map[string]string{"status": s})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		}

		w := doJSON(router, http.MethodPut, "/orders/"+order.ID+"/status", map[string]string{"status": "cancelled"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "TERMINAL_STATE", errorCode(t, w))
	})

	t.Run("Customers cannot change status", func(t *testing.T) {
		other := f.placeOrder(t, customerActor(1, "ana@example.com"), "")
		customerRouter := setupTestRouter()
		customerRouter.PUT("/orders/:id/status", mockAuthMiddleware(customerActor(1, "ana@example.com")), oc.UpdateStatus)

		w := doJSON(customerRouter, http.MethodPut, "/orders/"+other.ID+"/status", map[string]string{"status": "ready"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestVerifyPayment(t *testing.T) {
	f := newOrderFixture(t)
	oc := NewOrderController(f.engine, f.guests)

	router := setupTestRouter()
	router.POST("/orders/:id/verify-payment", mockAuthMiddleware(staffActor(10)), oc.VerifyPayment)

	order := f.placeOrder(t, customerActor(1, "ana@example.com"), "cash")

	w := doJSON(router, http.MethodPost, "/orders/"+order.ID+"/verify-payment", map[string]string{"method": "cash"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "paid", data["payment_status"])
	assert.Equal(t, "preparing", data["status"])
	assert.Equal(t, "auth0|staff", data["verified_by"])
	assert.Equal(t, false, data["ready_to_prepare"])

	// Double verification is rejected
	w = doJSON(router, http.MethodPost, "/orders/"+order.ID+"/verify-payment", map[string]string{"method": "cash"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errData := decode(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_TRANSITION", errData["code"])
	assert.Equal(t, "payment", errData["details"].(map[string]interface{})["dimension"])

	w = doJSON(router, http.MethodPost, "/orders/"+order.ID+"/verify-payment", map[string]string{"method": "bitcoin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestReportPaymentFailed(t *testing.T) {
	f := newOrderFixture(t)
	oc := NewOrderController(f.engine, f.guests)

	guestOrder := f.placeOrder(t, services.Actor{ID: "guest", Role: models.RoleGuest}, "gcash")

	router := setupTestRouter()
	router.POST("/orders/:id/payment-failed", mockAuthMiddleware(services.GuestActor(guestOrder.ID)), oc.ReportPaymentFailed)

	w := doJSON(router, http.MethodPost, "/orders/"+guestOrder.ID+"/payment-failed", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "failed", decode(t, w)["data"].(map[string]interface{})["payment_status"])

	other := f.placeOrder(t, customerActor(1, "ana@example.com"), "card")
	w = doJSON(router, http.MethodPost, "/orders/"+other.ID+"/payment-failed", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func newReceiptRequest(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("receipt", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadAndGetReceipt(t *testing.T) {
	f := newOrderFixture(t)
	oc := NewOrderController(f.engine, f.guests)
	ana := customerActor(1, "ana@example.com")

	order := f.placeOrder(t, ana, "gcash")

	router := setupTestRouter()
	router.POST("/orders/:id/receipt", mockAuthMiddleware(ana), oc.UploadReceipt)
	router.GET("/staff/orders/:id/receipt", mockAuthMiddleware(staffActor(10)), oc.GetReceipt)

	t.Run("Wrong format is rejected", func(t *testing.T) {
		req := newReceiptRequest(t, "/orders/"+order.ID+"/receipt", "receipt.gif", []byte("GIF89a"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_FILE_FORMAT", errorCode(t, w))
		assert.Equal(t, 0, f.receipts.Count())
	})

	t.Run("Receipt moves the order to pending verification", func(t *testing.T) {
		req := newReceiptRequest(t, "/orders/"+order.ID+"/receipt", "receipt.png", []byte("fake png"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		data := decode(t, w)["data"].(map[string]interface{})
		assert.Equal(t, "pending_verification", data["status"])
		assert.Equal(t, "pending_verification", data["payment_status"])
		assert.NotContains(t, data, "receipt_key")
		assert.True(t, f.receipts.FileExists(fmt.Sprintf("receipts/%s/mock_receipt.png", order.ID)))
	})

	t.Run("Staff get a presigned link", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/staff/orders/"+order.ID+"/receipt", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.Contains(t, data["url"], "receipts/"+order.ID)
	})

	t.Run("Cash orders take no receipt", func(t *testing.T) {
		cash := f.placeOrder(t, ana, "cash")
		req := newReceiptRequest(t, "/orders/"+cash.ID+"/receipt", "receipt.png", []byte("fake png"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
	})

	t.Run("Order without a receipt", func(t *testing.T) {
		card := f.placeOrder(t, ana, "card")
		w := doJSON(router, http.MethodGet, "/staff/orders/"+card.ID+"/receipt", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "RECEIPT_NOT_FOUND", errorCode(t, w))
	})
}
