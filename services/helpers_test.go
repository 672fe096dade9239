package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kendall-kelly/cafe-orders-api/config"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, config.Migrate(db))
	return db
}

// recordingPublisher captures engine events synchronously.
type recordingPublisher struct {
	mu      sync.Mutex
	placed  []OrderPlaced
	status  []StatusChanged
	payment []PaymentChanged
}

func (r *recordingPublisher) PublishOrderPlaced(e OrderPlaced) {
	r.mu.Lock()
	r.placed = append(r.placed, e)
	r.mu.Unlock()
}

func (r *recordingPublisher) PublishStatusChanged(e StatusChanged) {
	r.mu.Lock()
	r.status = append(r.status, e)
	r.mu.Unlock()
}

func (r *recordingPublisher) PublishPaymentChanged(e PaymentChanged) {
	r.mu.Lock()
	r.payment = append(r.payment, e)
	r.mu.Unlock()
}

func (r *recordingPublisher) statusEvents() []StatusChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusChanged(nil), r.status...)
}

func (r *recordingPublisher) paymentEvents() []PaymentChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PaymentChanged(nil), r.payment...)
}

// staleStore returns the order as it was when the snapshot was taken,
// simulating a reader that lost a race with another writer.
type staleStore struct {
	OrderStore
	snapshot *models.Order
}

func (s *staleStore) Get(ctx context.Context, id string) (*models.Order, error) {
	o := *s.snapshot
	return &o, nil
}

type engineFixture struct {
	db       *gorm.DB
	store    *GormOrderStore
	engine   *OrderEngine
	events   *recordingPublisher
	receipts *MockReceiptStorage
	latte    models.MenuItem
	muffin   models.MenuItem
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := setupTestDB(t)

	latte := models.MenuItem{Name: "Latte", Price: 4.5, Available: true}
	muffin := models.MenuItem{Name: "Blueberry Muffin", Price: 3.25, Available: true}
	require.NoError(t, db.Create(&latte).Error)
	require.NoError(t, db.Create(&muffin).Error)

	f := &engineFixture{
		db:       db,
		store:    NewGormOrderStore(db),
		events:   &recordingPublisher{},
		receipts: NewMockReceiptStorage(),
		latte:    latte,
		muffin:   muffin,
		now:      time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
	}
	f.engine = NewOrderEngine(f.store, NewGormMenuCatalog(db), f.receipts, f.events)
	f.engine.nowFunc = func() time.Time { return f.now }
	return f
}

func (f *engineFixture) place(t *testing.T, method string) *models.Order {
	t.Helper()
	order, err := f.engine.PlaceOrder(t.Context(), PlaceOrderInput{
		OrderType:     models.OrderTypeTakeout,
		Items:         []LineItemRequest{{MenuItemID: f.latte.ID, Quantity: 1}},
		PaymentMethod: method,
	}, Actor{ID: "guest", Role: models.RoleGuest})
	require.NoError(t, err)
	return order
}

// seedOrder inserts an order directly with a fixed creation time.
func seedOrder(t *testing.T, db *gorm.DB, id string, status models.OrderStatus, payment models.PaymentStatus, createdAt time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:            id,
		Status:        status,
		PaymentStatus: payment,
		OrderType:     models.OrderTypeTakeout,
		Items:         []models.LineItem{{MenuItemID: 1, Name: "Latte", UnitPrice: 4.5, Quantity: 1}},
		TotalPrice:    4.5,
		CreatedAt:     createdAt.UTC(),
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func staff(id uint) Actor {
	return Actor{ID: "auth0|staff", UserID: &id, Role: models.RoleStaff}
}

// slowNotificationStore widens the gap between the existence check and the
// insert and records how many checks overlap.
type slowNotificationStore struct {
	NotificationStore
	delay time.Duration

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (s *slowNotificationStore) ExistsBetween(ctx context.Context, typ models.NotificationType, dedupKey string, from, to time.Time) (bool, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	exists, err := s.NotificationStore.ExistsBetween(ctx, typ, dedupKey, from, to)
	time.Sleep(s.delay)
	return exists, err
}

func (s *slowNotificationStore) peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}
