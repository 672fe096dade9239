package controllers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/cafe-orders-api/config"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/kendall-kelly/cafe-orders-api/services"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// mockAuthMiddleware sets a resolved actor the way middleware.Authenticate does
func mockAuthMiddleware(actor services.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.SetActor(c, actor)
		c.Next()
	}
}

func staffActor(id uint) services.Actor {
	return services.Actor{ID: "auth0|staff", UserID: &id, Role: models.RoleStaff, Email: "staff@cafe.test"}
}

func customerActor(id uint, email string) services.Actor {
	return services.Actor{ID: "auth0|customer", UserID: &id, Role: models.RoleCustomer, Email: email}
}

type orderFixture struct {
	db       *gorm.DB
	engine   *services.OrderEngine
	receipts *services.MockReceiptStorage
	guests   *services.GuestTokens
	latte    models.MenuItem
	muffin   models.MenuItem
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	db := setupTestDB(t)

	latte := models.MenuItem{Name: "Latte", Price: 4.5, Available: true}
	muffin := models.MenuItem{Name: "Blueberry Muffin", Price: 3.25, Available: true}
	require.NoError(t, db.Create(&latte).Error)
	require.NoError(t, db.Create(&muffin).Error)

	receipts := services.NewMockReceiptStorage()
	engine := services.NewOrderEngine(
		services.NewGormOrderStore(db),
		services.NewGormMenuCatalog(db),
		receipts,
		services.NewEventBus(),
	)
	return &orderFixture{
		db:       db,
		engine:   engine,
		receipts: receipts,
		guests:   services.NewGuestTokens("test-secret"),
		latte:    latte,
		muffin:   muffin,
	}
}

// placeOrder creates an order directly through the engine
func (f *orderFixture) placeOrder(t *testing.T, actor services.Actor, method string) *models.Order {
	t.Helper()
	in := services.PlaceOrderInput{
		OrderType:     models.OrderTypeTakeout,
		Items:         []services.LineItemRequest{{MenuItemID: f.latte.ID, Quantity: 1}},
		PaymentMethod: method,
	}
	order, err := f.engine.PlaceOrder(t.Context(), in, actor)
	require.NoError(t, err)
	return order
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return response
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	response := decode(t, w)
	errData, ok := response["error"].(map[string]interface{})
	require.True(t, ok, "expected an error envelope: %s", w.Body.String())
	return errData["code"].(string)
}
