package services

import (
	"context"
	"fmt"

	"github.com/kendall-kelly/cafe-orders-api/models"
	"gorm.io/gorm"
)

// MenuCatalog resolves menu item ids to their current name and price at
// the moment an order is placed.
type MenuCatalog interface {
	Snapshot(ctx context.Context, ids []uint) (map[uint]models.MenuItem, error)
}

// GormMenuCatalog reads available items from the menu_items table.
type GormMenuCatalog struct {
	db *gorm.DB
}

// NewGormMenuCatalog creates a catalog backed by db
func NewGormMenuCatalog(db *gorm.DB) *GormMenuCatalog {
	return &GormMenuCatalog{db: db}
}

func (c *GormMenuCatalog) Snapshot(ctx context.Context, ids []uint) (map[uint]models.MenuItem, error) {
	var items []models.MenuItem
	if err := c.db.WithContext(ctx).Where("id IN ? AND available = ?", ids, true).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load menu items: %w", err)
	}

	byID := make(map[uint]models.MenuItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	return byID, nil
}
