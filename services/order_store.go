package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kendall-kelly/cafe-orders-api/models"
	"gorm.io/gorm"
)

// OrderFilter narrows a List query. Zero values match everything.
type OrderFilter struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	OrderType     models.OrderType
	CustomerID    *uint
	ActiveOnly    bool
	Limit         int
	Offset        int
}

// Expect is the precondition of a compare-and-swap. An empty PaymentStatus
// leaves the payment dimension unchecked.
type Expect struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
}

// Changes lists the columns a compare-and-swap writes. Nil fields are left alone.
type Changes struct {
	Status        *models.OrderStatus
	PaymentStatus *models.PaymentStatus
	PaymentMethod *string
	StaffID       *uint
	ReceiptKey    *string
	VerifiedBy    *string
	VerifiedAt    *time.Time
	PreparingAt   *time.Time
}

func (c Changes) columns(now time.Time) map[string]interface{} {
	cols := map[string]interface{}{"updated_at": now}
	if c.Status != nil {
		cols["status"] = *c.Status
	}
	if c.PaymentStatus != nil {
		cols["payment_status"] = *c.PaymentStatus
	}
	if c.PaymentMethod != nil {
		cols["payment_method"] = *c.PaymentMethod
	}
	if c.StaffID != nil {
		cols["staff_id"] = *c.StaffID
	}
	if c.ReceiptKey != nil {
		cols["receipt_key"] = *c.ReceiptKey
	}
	if c.VerifiedBy != nil {
		cols["verified_by"] = *c.VerifiedBy
	}
	if c.VerifiedAt != nil {
		cols["verified_at"] = *c.VerifiedAt
	}
	if c.PreparingAt != nil {
		cols["preparing_at"] = *c.PreparingAt
	}
	return cols
}

// QueueEntry is the minimal projection queue ranking needs.
type QueueEntry struct {
	ID        string
	CreatedAt time.Time
}

// OrderStore is the persistence boundary for orders. Every mutation of an
// existing order goes through CompareAndSwap.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	ActiveQueue(ctx context.Context) ([]QueueEntry, error)
	CompareAndSwap(ctx context.Context, id string, expect Expect, changes Changes) (*models.Order, error)
	FindPaidAwaitingPreparation(ctx context.Context) ([]models.Order, error)
	FindPendingVerification(ctx context.Context) ([]models.Order, error)
	DeleteCancelled(ctx context.Context) (int64, error)
	DeleteStalePendingVerification(ctx context.Context, before time.Time) (int64, error)
}

var activeStatuses = []models.OrderStatus{
	models.StatusPending,
	models.StatusPendingVerification,
	models.StatusConfirmed,
	models.StatusPreparing,
	models.StatusReady,
}

var awaitingStatuses = []models.OrderStatus{
	models.StatusPending,
	models.StatusPendingVerification,
}

// GormOrderStore implements OrderStore on top of gorm.
type GormOrderStore struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

// NewGormOrderStore creates an order store backed by db
func NewGormOrderStore(db *gorm.DB) *GormOrderStore {
	return &GormOrderStore{db: db, nowFunc: time.Now}
}

func (s *GormOrderStore) Create(ctx context.Context, order *models.Order) error {
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *GormOrderStore) Get(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	return &order, nil
}

func (s *GormOrderStore) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Model(&models.Order{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.PaymentStatus != "" {
		q = q.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.OrderType != "" {
		q = q.Where("order_type = ?", filter.OrderType)
	}
	if filter.CustomerID != nil {
		q = q.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.ActiveOnly {
		q = q.Where("status IN ?", activeStatuses)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var orders []models.Order
	if err := q.Order("created_at ASC").Order("id ASC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *GormOrderStore) ActiveQueue(ctx context.Context) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := s.db.WithContext(ctx).Model(&models.Order{}).
		Select("id", "created_at").
		Where("status IN ?", activeStatuses).
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load order queue: %w", err)
	}
	return entries, nil
}

// CompareAndSwap applies changes only if the row still matches expect.
// Zero affected rows means the order is gone (NotFoundError) or has moved
// on since it was read (ConflictError).
func (s *GormOrderStore) CompareAndSwap(ctx context.Context, id string, expect Expect, changes Changes) (*models.Order, error) {
	db := s.db.WithContext(ctx)

	q := db.Model(&models.Order{}).Where("id = ? AND status = ?", id, expect.Status)
	if expect.PaymentStatus != "" {
		q = q.Where("payment_status = ?", expect.PaymentStatus)
	}
	result := q.Updates(changes.columns(s.nowFunc()))
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update order %s: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&models.Order{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check order %s: %w", id, err)
		}
		if count == 0 {
			return nil, NewNotFound(id)
		}
		return nil, NewConflict(id)
	}

	return s.Get(ctx, id)
}

func (s *GormOrderStore) FindPaidAwaitingPreparation(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("payment_status = ? AND status IN ?", models.PaymentPaid, awaitingStatuses).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find paid orders: %w", err)
	}
	return orders, nil
}

func (s *GormOrderStore) FindPendingVerification(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).
		Where("payment_status = ? AND status IN ?", models.PaymentPendingVerification, awaitingStatuses).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find orders pending verification: %w", err)
	}
	return orders, nil
}

func (s *GormOrderStore) DeleteCancelled(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("status = ?", models.StatusCancelled).Delete(&models.Order{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge cancelled orders: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormOrderStore) DeleteStalePendingVerification(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusPendingVerification, before).
		Delete(&models.Order{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge stale orders: %w", result.Error)
	}
	return result.RowsAffected, nil
}
