package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kendall-kelly/cafe-orders-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationStore persists inbox entries.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ExistsBetween(ctx context.Context, typ models.NotificationType, dedupKey string, from, to time.Time) (bool, error)
	ListFor(ctx context.Context, actor Actor, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string, actor Actor, at time.Time) error
}

// GormNotificationStore implements NotificationStore on top of gorm.
type GormNotificationStore struct {
	db *gorm.DB
}

func NewGormNotificationStore(db *gorm.DB) *GormNotificationStore {
	return &GormNotificationStore{db: db}
}

// Create stores n. A daily notification that already exists for its day
// leaves the table untouched and returns ErrDuplicateNotification.
func (s *GormNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.DedupDay == nil {
		if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		return nil
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if result.Error != nil {
		return fmt.Errorf("failed to create notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateNotification
	}
	return nil
}

// ExistsBetween reports whether a notification of typ with dedupKey was
// created in [from, to).
func (s *GormNotificationStore) ExistsBetween(ctx context.Context, typ models.NotificationType, dedupKey string, from, to time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("type = ? AND dedup_key = ? AND created_at >= ? AND created_at < ?", typ, dedupKey, from, to).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check notification %s/%s: %w", typ, dedupKey, err)
	}
	return count > 0, nil
}

// ListFor returns notifications addressed to the actor's role or to the
// actor personally, newest first.
func (s *GormNotificationStore) ListFor(ctx context.Context, actor Actor, unreadOnly bool, limit int) ([]models.Notification, error) {
	q := s.visibleTo(s.db.WithContext(ctx), actor)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var list []models.Notification
	if err := q.Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

func (s *GormNotificationStore) MarkRead(ctx context.Context, id string, actor Actor, at time.Time) error {
	db := s.db.WithContext(ctx)

	var n models.Notification
	err := s.visibleTo(db, actor).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotificationNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("failed to load notification %s: %w", id, err)
	}
	if n.ReadAt != nil {
		return nil
	}
	if err := db.Model(&models.Notification{}).Where("id = ? AND read_at IS NULL", id).Update("read_at", at).Error; err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}

func (s *GormNotificationStore) visibleTo(db *gorm.DB, actor Actor) *gorm.DB {
	q := db.Model(&models.Notification{})
	roles := []string{actor.Role}
	if actor.IsAdmin() {
		// Admins also read the staff inbox.
		roles = append(roles, models.RoleStaff)
	}
	if actor.UserID != nil {
		return q.Where("target_role IN ? OR target_user_id = ?", roles, *actor.UserID)
	}
	return q.Where("target_role IN ?", roles)
}
