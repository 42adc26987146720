package backorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lopbooks/backorderd/internal/models"
	"gorm.io/gorm"
)

// User input errors. These reject the operation synchronously; no
// state is mutated.
var (
	ErrReasonRequired   = errors.New("a reason is required")
	ErrUnknownAction    = errors.New("unknown override action")
	ErrRecordNotFound   = errors.New("backorder record not found")
	ErrInvalidUndoIndex = errors.New("undo index out of range")
	ErrEmptyScope       = errors.New("an order/line or a barcode scope is required")
)

// OverrideAction selects what a single-record override does
type OverrideAction string

const (
	// ActionClose marks the line fulfilled or cancelled
	ActionClose OverrideAction = "close"
	// ActionExclude keeps the line open but removes it from counts,
	// e.g. a misclassified preorder
	ActionExclude OverrideAction = "exclude"
)

// ETAScope addresses either one record or every open, non-overridden
// record sharing a barcode
type ETAScope struct {
	OrderID    string
	LineItemID string
	Barcode    string
}

func (s ETAScope) validate() error {
	if s.Barcode != "" {
		return nil
	}
	if s.OrderID != "" && s.LineItemID != "" {
		return nil
	}
	return ErrEmptyScope
}

// Workflow implements the staff-initiated lifecycle operations. Every
// closure goes through here: there is no automatic closure from
// inventory replenishment alone.
type Workflow struct {
	db  *gorm.DB
	now func() time.Time
}

// NewWorkflow creates a workflow over the store's connection
func NewWorkflow(db *gorm.DB) *Workflow {
	return &Workflow{db: db, now: time.Now}
}

// overrideValues builds the column set for a staff closure/override
func (w *Workflow) overrideValues(status models.BackorderStatus, reason string) map[string]interface{} {
	ts := w.now().UTC()
	return map[string]interface{}{
		"status":          status,
		"override_flag":   true,
		"override_reason": reason,
		"override_ts":     ts,
	}
}

// Override applies a single-record staff override: close the record,
// or keep it open but excluded from counts. Reason is mandatory.
func (w *Workflow) Override(ctx context.Context, orderID, lineItemID string, action OverrideAction, reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}

	var status models.BackorderStatus
	switch action {
	case ActionClose:
		status = models.BackorderClosed
	case ActionExclude:
		status = models.BackorderOpen
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	res := w.db.WithContext(ctx).
		Model(&models.BackorderLine{}).
		Where("order_id = ? AND line_item_id = ?", orderID, lineItemID).
		Updates(w.overrideValues(status, reason))
	if res.Error != nil {
		return fmt.Errorf("override: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// openUntouched scopes to records bulk operations may close: currently
// open and never overridden by staff
func (w *Workflow) openUntouched(ctx context.Context) *gorm.DB {
	return w.db.WithContext(ctx).
		Model(&models.BackorderLine{}).
		Where("status = ? AND override_flag = ?", models.BackorderOpen, false)
}

// FulfillOrder closes every open, non-overridden record for one order.
// Returns how many rows it closed; partial matches are reported, not
// hidden.
func (w *Workflow) FulfillOrder(ctx context.Context, orderID string) (int64, error) {
	res := w.openUntouched(ctx).
		Where("order_id = ?", orderID).
		Updates(w.overrideValues(models.BackorderClosed, "bulk fulfill: order "+orderID))
	if res.Error != nil {
		return 0, fmt.Errorf("fulfill order: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FulfillISBN closes every open, non-overridden record sharing a
// barcode — a title arrived and satisfies multiple customers at once.
func (w *Workflow) FulfillISBN(ctx context.Context, isbn string) (int64, error) {
	res := w.openUntouched(ctx).
		Where("product_barcode = ?", isbn).
		Updates(w.overrideValues(models.BackorderClosed, "bulk fulfill: ISBN "+isbn))
	if res.Error != nil {
		return 0, fmt.Errorf("fulfill isbn: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FulfillItem closes the records matching one (order, barcode) pair
func (w *Workflow) FulfillItem(ctx context.Context, orderID, isbn string) (int64, error) {
	res := w.openUntouched(ctx).
		Where("order_id = ? AND product_barcode = ?", orderID, isbn).
		Updates(w.overrideValues(models.BackorderClosed, fmt.Sprintf("fulfilled %s on order %s", isbn, orderID)))
	if res.Error != nil {
		return 0, fmt.Errorf("fulfill item: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// undoWindow is how many recent closures an undo index may address
const undoWindow = 10

// Undo reverts the index-th most recent closure (1-based, newest
// first) back to open and clears its override flag. The undo reason is
// recorded in the record's override_reason for audit.
func (w *Workflow) Undo(ctx context.Context, store *Store, index int, reason string) (*models.BackorderLine, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	recent, err := store.RecentClosures(ctx, undoWindow)
	if err != nil {
		return nil, err
	}
	if index < 1 || index > len(recent) {
		return nil, fmt.Errorf("%w: %d (have %d recent closures)", ErrInvalidUndoIndex, index, len(recent))
	}

	target := recent[index-1]
	ts := w.now().UTC()
	res := w.db.WithContext(ctx).
		Model(&models.BackorderLine{}).
		Where("id = ?", target.ID).
		Updates(map[string]interface{}{
			"status":          models.BackorderOpen,
			"override_flag":   false,
			"override_reason": "undo: " + reason,
			"override_ts":     ts,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("undo: %w", res.Error)
	}

	target.Status = models.BackorderOpen
	target.OverrideFlag = false
	undoReason := "undo: " + reason
	target.OverrideReason = &undoReason
	target.OverrideTS = &ts
	return &target, nil
}

// SetETA stamps an expected arrival date on the scoped records:
// one record, or all open non-overridden records sharing a barcode.
// ETA is independent of lifecycle status.
func (w *Workflow) SetETA(ctx context.Context, scope ETAScope, date time.Time) (int64, error) {
	return w.updateETA(ctx, scope, &date)
}

// ClearETA nulls the expected arrival date on the scoped records
func (w *Workflow) ClearETA(ctx context.Context, scope ETAScope) (int64, error) {
	return w.updateETA(ctx, scope, nil)
}

func (w *Workflow) updateETA(ctx context.Context, scope ETAScope, date *time.Time) (int64, error) {
	if err := scope.validate(); err != nil {
		return 0, err
	}

	q := w.db.WithContext(ctx).Model(&models.BackorderLine{})
	if scope.Barcode != "" {
		q = q.Where("product_barcode = ? AND status = ? AND override_flag = ?",
			scope.Barcode, models.BackorderOpen, false)
	} else {
		q = q.Where("order_id = ? AND line_item_id = ?", scope.OrderID, scope.LineItemID)
	}

	res := q.Update("eta_date", date)
	if res.Error != nil {
		return 0, fmt.Errorf("update eta: %w", res.Error)
	}
	if res.RowsAffected == 0 && scope.Barcode == "" {
		return 0, ErrRecordNotFound
	}
	return res.RowsAffected, nil
}
