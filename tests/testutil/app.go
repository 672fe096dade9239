package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/controllers"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/kendall-kelly/cafe-orders-api/services"
	"gorm.io/gorm"
)

// Bearer tokens accepted by every TestApp
const (
	AdminToken    = "admin-token"
	StaffToken    = "staff-token"
	CustomerToken = "customer-token"
	OtherToken    = "other-customer-token"
)

// TestApp is the full API wired against in-memory collaborators.
type TestApp struct {
	Router     *gin.Engine
	DB         *gorm.DB
	Hub        *services.Hub
	Bus        *services.EventBus
	Engine     *services.OrderEngine
	Dispatcher *services.NotificationDispatcher
	Receipts   *services.MockReceiptStorage
	Mailer     *services.MockMailer
	Guests     *services.GuestTokens
	Validator  *StubValidator

	Admin    models.User
	Staff    models.User
	Customer models.User
	Other    models.User
}

// NewTestApp builds the API routes on a fresh database with one admin,
// one staff member and two customers.
func NewTestApp(t *testing.T) *TestApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := OpenTestDB(t)
	app := &TestApp{
		DB:        db,
		Hub:       services.NewHub(32),
		Receipts:  services.NewMockReceiptStorage(),
		Mailer:    services.NewMockMailer(),
		Guests:    services.NewGuestTokens("integration-secret"),
		Validator: NewStubValidator(),
	}

	orders := services.NewGormOrderStore(db)
	notifications := services.NewGormNotificationStore(db)
	app.Dispatcher = services.NewNotificationDispatcher(notifications, app.Hub, app.Mailer)
	app.Bus = services.NewEventBus(app.Dispatcher, services.NewOrderFanout(app.Hub))
	app.Engine = services.NewOrderEngine(orders, services.NewGormMenuCatalog(db), app.Receipts, app.Bus)
	// Runs before the database is closed
	t.Cleanup(app.Bus.Wait)

	app.Admin = SeedUser(t, db, "auth0|admin", "Admin", "admin@cafe.test", models.RoleAdmin)
	app.Staff = SeedUser(t, db, "auth0|staff", "Barista", "staff@cafe.test", models.RoleStaff)
	app.Customer = SeedUser(t, db, "auth0|ana", "Ana", "ana@example.com", models.RoleCustomer)
	app.Other = SeedUser(t, db, "auth0|ben", "Ben", "ben@example.com", models.RoleCustomer)
	app.Validator.Allow(AdminToken, app.Admin.Auth0ID)
	app.Validator.Allow(StaffToken, app.Staff.Auth0ID)
	app.Validator.Allow(CustomerToken, app.Customer.Auth0ID)
	app.Validator.Allow(OtherToken, app.Other.Auth0ID)

	auth := middleware.NewAuthenticator(app.Validator, app.Guests, db, nil)
	routes := &controllers.Routes{
		Auth:          auth,
		Users:         controllers.NewUserController(db),
		Orders:        controllers.NewOrderController(app.Engine, app.Guests),
		Notifications: controllers.NewNotificationController(notifications),
		Rewards:       controllers.NewRewardController(services.NewTokenService(db), app.Dispatcher),
		EventRequests: controllers.NewEventRequestController(app.Dispatcher),
		Socket:        controllers.NewSocketController(app.Hub, auth, orders, []string{"*"}),
	}

	app.Router = gin.New()
	app.Router.Use(gin.Recovery())
	routes.Register(app.Router.Group("/api/v1"))
	return app
}

// SeedMenuItem stores an available menu item.
func (a *TestApp) SeedMenuItem(t *testing.T, name string, price float64) models.MenuItem {
	t.Helper()
	item := models.MenuItem{Name: name, Price: price, Available: true}
	if err := a.DB.Create(&item).Error; err != nil {
		t.Fatalf("Failed to seed menu item %s: %v", name, err)
	}
	return item
}

// Request describes one call against the router.
type Request struct {
	Method      string
	Path        string
	Body        interface{}
	Token       string // bearer token
	GuestToken  string
	ContentType string
	RawBody     io.Reader
}

// Do runs req through the router.
func (a *TestApp) Do(req Request) *httptest.ResponseRecorder {
	body := req.RawBody
	if body == nil && req.Body != nil {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(req.Body)
		body = &buf
	}
	r := httptest.NewRequest(req.Method, req.Path, body)
	switch {
	case req.ContentType != "":
		r.Header.Set("Content-Type", req.ContentType)
	case req.Body != nil:
		r.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		r.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.GuestToken != "" {
		r.Header.Set(middleware.GuestTokenHeader, req.GuestToken)
	}

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, r)
	return w
}

// Response is the decoded API envelope.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

// Decode parses the envelope and, when data is not nil, its data field.
func Decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	if data != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("Failed to decode data %q: %v", string(resp.Data), err)
		}
	}
	return resp
}

// ErrorCode returns the error code of a failed response.
func ErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := Decode(t, w, nil)
	if resp.Error == nil {
		t.Fatalf("Expected an error envelope, got %s (status %d)", w.Body.String(), w.Code)
	}
	return resp.Error.Code
}

// StatusIs fails the test with the body when the status is not want.
func StatusIs(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

// OK is shorthand for StatusIs(t, w, http.StatusOK).
func OK(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	StatusIs(t, w, http.StatusOK)
}
