package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealthEndpointIntegration tests the /api/v1/health endpoint with full routing
func TestHealthEndpointIntegration(t *testing.T) {
	router := setupRouter(newTestApp(t))

	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "Expected status 200 OK")

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, true, response["success"])
}

// TestHealthEndpointMethod tests that only GET method is allowed
func TestHealthEndpointMethod(t *testing.T) {
	router := setupRouter(newTestApp(t))

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req, _ := http.NewRequest(method, "/api/v1/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s should not be allowed", method)
	}
}

// TestGuestOrderFlow places an anonymous order and follows it with the
// issued guest token.
func TestGuestOrderFlow(t *testing.T) {
	app := newTestApp(t)
	router := setupRouter(app)

	latte := models.MenuItem{Name: "Latte", Price: 4.5, Available: true}
	require.NoError(t, app.db.Create(&latte).Error)

	body, _ := json.Marshal(map[string]interface{}{
		"order_type": "takeout",
		"items":      []map[string]interface{}{{"menu_item_id": latte.ID, "quantity": 2}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data struct {
			Order struct {
				ID            string  `json:"id"`
				TotalPrice    float64 `json:"total_price"`
				QueuePosition int     `json:"queue_position"`
			} `json:"order"`
			GuestToken string `json:"guest_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 9.0, created.Data.Order.TotalPrice)
	assert.Equal(t, 1, created.Data.Order.QueuePosition)
	require.NotEmpty(t, created.Data.GuestToken)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+created.Data.Order.ID, nil)
	req.Header.Set("X-Guest-Token", created.Data.GuestToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Guests cannot drive the lifecycle
	statusBody, _ := json.Marshal(map[string]string{"status": "preparing"})
	req = httptest.NewRequest(http.MethodPut, "/api/v1/orders/"+created.Data.Order.ID+"/status", bytes.NewBuffer(statusBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Guest-Token", created.Data.GuestToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+created.Data.Order.ID, nil)
	req.Header.Set("X-Guest-Token", "not-a-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
