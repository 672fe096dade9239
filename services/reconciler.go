package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kendall-kelly/cafe-orders-api/config"
	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StalePendingVerificationAge is how long an unverified checkout survives
// before the daily purge removes it.
const StalePendingVerificationAge = 48 * time.Hour

// Window is a daily local-time range [Start, End) in minutes after
// midnight. A window whose Start equals End is always open.
type Window struct {
	Start    int
	End      int
	Location *time.Location
}

// NewWindow builds the reconciliation window from configuration
func NewWindow(cfg config.ReconcileConfig) (Window, error) {
	start, err := config.ParseClock(cfg.WindowStart)
	if err != nil {
		return Window{}, err
	}
	end, err := config.ParseClock(cfg.WindowEnd)
	if err != nil {
		return Window{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end, Location: loc}, nil
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.Local
	}
	return w.Location
}

// Contains reports whether t falls inside the window on its local day.
// Windows that cross midnight are supported.
func (w Window) Contains(t time.Time) bool {
	if w.Start == w.End {
		return true
	}
	local := t.In(w.location())
	m := local.Hour()*60 + local.Minute()
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// Day returns the bounds of t's local calendar day.
func (w Window) Day(t time.Time) (time.Time, time.Time) {
	local := t.In(w.location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.location())
	return start, start.AddDate(0, 0, 1)
}

// Finding is one condition a rule found true right now.
type Finding struct {
	DedupKey string
	Message  string
	OrderID  *string
}

// Rule is a condition that should produce at most one notification per
// dedup key per calendar day while it holds.
type Rule struct {
	Name       string
	Type       models.NotificationType
	Priority   string
	TargetRole string
	Window     Window
	Check      func(ctx context.Context, now time.Time) ([]Finding, error)
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	Evaluated  int
	Dispatched int
	Suppressed int
}

// PurgeResult counts deleted orders.
type PurgeResult struct {
	Cancelled           int64
	PendingVerification int64
}

// Reconciler re-derives side effects the event-driven paths may have missed
// from current state. Every step is idempotent.
type Reconciler struct {
	rules         []Rule
	notifications NotificationStore
	dispatcher    *NotificationDispatcher
	orders        OrderStore
	engine        *OrderEngine
}

// NewReconciler creates a reconciler for the given rules
func NewReconciler(orders OrderStore, engine *OrderEngine, notifications NotificationStore, dispatcher *NotificationDispatcher, rules ...Rule) *Reconciler {
	return &Reconciler{
		rules:         rules,
		notifications: notifications,
		dispatcher:    dispatcher,
		orders:        orders,
		engine:        engine,
	}
}

// Sweep evaluates every rule whose window contains now. A finding is
// dispatched only if no notification with the same type and dedup key
// exists for now's calendar day; a condition that no longer holds produces
// no finding and therefore nothing is sent. The day is also stamped on the
// row so the unique index rejects a concurrent sweep that passed the same
// check.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	var errs []error

	for _, rule := range r.rules {
		if !rule.Window.Contains(now) {
			continue
		}
		log := logger.WithFields(logrus.Fields{"rule": rule.Name})

		findings, err := rule.Check(ctx, now)
		if err != nil {
			log.WithError(err).Error("Reconcile rule check failed")
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
			continue
		}

		dayStart, dayEnd := rule.Window.Day(now)
		day := dayStart.Format("2006-01-02")
		for _, f := range findings {
			result.Evaluated++

			exists, err := r.notifications.ExistsBetween(ctx, rule.Type, f.DedupKey, dayStart, dayEnd)
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
				continue
			}
			if exists {
				result.Suppressed++
				continue
			}

			n := &models.Notification{
				Type:      rule.Type,
				Priority:  rule.Priority,
				DedupKey:  f.DedupKey,
				OrderID:   f.OrderID,
				Message:   f.Message,
				CreatedAt: now,
				DedupDay:  strPtr(day),
			}
			if rule.TargetRole != "" {
				n.TargetRole = strPtr(rule.TargetRole)
			}
			if err := r.dispatcher.Dispatch(ctx, n); err != nil {
				if errors.Is(err, ErrDuplicateNotification) {
					result.Suppressed++
					continue
				}
				r.dispatcher.report(err)
				errs = append(errs, err)
				continue
			}
			result.Dispatched++
		}
	}

	if result.Evaluated > 0 {
		logger.WithFields(logrus.Fields{
			"evaluated":  result.Evaluated,
			"dispatched": result.Dispatched,
			"suppressed": result.Suppressed,
		}).Info("Alert sweep finished")
	}
	return result, errors.Join(errs...)
}

// AdvancePaid moves every paid order still awaiting preparation to
// preparing as the system actor. Orders that changed concurrently are left
// for the next pass.
func (r *Reconciler) AdvancePaid(ctx context.Context) (int, error) {
	orders, err := r.orders.FindPaidAwaitingPreparation(ctx)
	if err != nil {
		return 0, err
	}

	advanced := 0
	var errs []error
	for _, o := range orders {
		_, err := r.engine.Transition(ctx, o.ID, models.StatusPreparing, SystemActor)
		var conflict *ConflictError
		var notFound *NotFoundError
		switch {
		case err == nil:
			advanced++
		case errors.As(err, &conflict), errors.As(err, &notFound):
			logger.WithFields(logrus.Fields{"order_id": o.ID}).Debug("Paid order changed concurrently, skipping")
		default:
			errs = append(errs, fmt.Errorf("advance order %s: %w", o.ID, err))
		}
	}

	if advanced > 0 {
		logger.WithFields(logrus.Fields{"advanced": advanced}).Info("Advanced paid orders to preparing")
	}
	return advanced, errors.Join(errs...)
}

// Purge deletes every cancelled order and every order stuck in
// pending_verification for longer than StalePendingVerificationAge.
func (r *Reconciler) Purge(ctx context.Context, now time.Time) (PurgeResult, error) {
	var result PurgeResult

	cancelled, err := r.orders.DeleteCancelled(ctx)
	if err != nil {
		return result, err
	}
	result.Cancelled = cancelled

	stale, err := r.orders.DeleteStalePendingVerification(ctx, now.Add(-StalePendingVerificationAge))
	if err != nil {
		return result, err
	}
	result.PendingVerification = stale

	logger.WithFields(logrus.Fields{
		"cancelled":            result.Cancelled,
		"pending_verification": result.PendingVerification,
	}).Info("Purged stale orders")
	return result, nil
}

// InventoryReader lists stock at or below its low threshold.
type InventoryReader interface {
	LowStock(ctx context.Context) ([]models.InventoryItem, error)
}

// GormInventoryReader reads the inventory_items table.
type GormInventoryReader struct {
	db *gorm.DB
}

func NewGormInventoryReader(db *gorm.DB) *GormInventoryReader {
	return &GormInventoryReader{db: db}
}

func (g *GormInventoryReader) LowStock(ctx context.Context) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	if err := g.db.WithContext(ctx).Where("quantity <= low_threshold").Order("id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	return items, nil
}

// LowStockRules alerts admins about critical and low stock, one rule per level.
func LowStockRules(inventory InventoryReader, window Window) []Rule {
	check := func(level models.NotificationType) func(context.Context, time.Time) ([]Finding, error) {
		return func(ctx context.Context, now time.Time) ([]Finding, error) {
			items, err := inventory.LowStock(ctx)
			if err != nil {
				return nil, err
			}
			var findings []Finding
			for _, it := range items {
				if it.StockLevel() != level {
					continue
				}
				findings = append(findings, Finding{
					DedupKey: fmt.Sprintf("inventory:%d", it.ID),
					Message:  fmt.Sprintf("%s is running low: %g %s left", it.Name, it.Quantity, it.Unit),
				})
			}
			return findings, nil
		}
	}

	return []Rule{
		{
			Name:       "low_stock_critical",
			Type:       models.NotificationLowStockCritical,
			Priority:   models.PriorityCritical,
			TargetRole: models.RoleAdmin,
			Window:     window,
			Check:      check(models.NotificationLowStockCritical),
		},
		{
			Name:       "low_stock_low",
			Type:       models.NotificationLowStockLow,
			Priority:   models.PriorityHigh,
			TargetRole: models.RoleAdmin,
			Window:     window,
			Check:      check(models.NotificationLowStockLow),
		},
	}
}

// PendingVerificationRule reminds staff about receipts nobody has verified.
func PendingVerificationRule(orders OrderStore, window Window) Rule {
	return Rule{
		Name:       "payment_verification_pending",
		Type:       models.NotificationPaymentVerification,
		Priority:   models.PriorityHigh,
		TargetRole: models.RoleStaff,
		Window:     window,
		Check: func(ctx context.Context, now time.Time) ([]Finding, error) {
			pending, err := orders.FindPendingVerification(ctx)
			if err != nil {
				return nil, err
			}
			findings := make([]Finding, 0, len(pending))
			for _, o := range pending {
				findings = append(findings, Finding{
					DedupKey: o.ID,
					Message:  fmt.Sprintf("Payment receipt for order %s is waiting for verification", o.ShortCode()),
					OrderID:  strPtr(o.ID),
				})
			}
			return findings, nil
		},
	}
}
