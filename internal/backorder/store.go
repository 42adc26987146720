package backorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lopbooks/backorderd/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PageSize is the fixed detail-view page size
const PageSize = 10

// SortKey selects a detail-view sort order
type SortKey string

const (
	SortAge    SortKey = "age"    // oldest first, from the later of pub date and order date
	SortVendor SortKey = "vendor" // vendor A-Z
	SortTitle  SortKey = "title"  // article-agnostic title A-Z
	SortQty    SortKey = "qty"    // quantity high to low, most-oversold first on ties
)

// AggSortKey selects an aggregate-view sort order
type AggSortKey string

const (
	AggSortQty   AggSortKey = "qty"
	AggSortTitle AggSortKey = "title"
)

// ErrUnknownSortKey is a user input error: an unrecognized sort key
var ErrUnknownSortKey = errors.New("unknown sort key")

// ParseSortKey validates a caller-supplied detail sort key, defaulting
// to age when empty
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(s) {
	case "":
		return SortAge, nil
	case SortAge, SortVendor, SortTitle, SortQty:
		return SortKey(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
}

// ParseAggSortKey validates a caller-supplied aggregate sort key,
// defaulting to qty when empty
func ParseAggSortKey(s string) (AggSortKey, error) {
	switch AggSortKey(s) {
	case "":
		return AggSortQty, nil
	case AggSortQty, AggSortTitle:
		return AggSortKey(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
}

// Store is the persisted table of backorder lines plus its query layer.
// All mutation goes through row-scoped upserts and updates keyed by the
// (order_id, line_item_id) composite key.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over an open GORM connection
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// snapshotColumns are the only columns an ingestion may overwrite.
// Staff-owned state (status, override_*, eta_date) is deliberately
// absent: a concurrent re-ingestion must never reopen a manually
// closed record or clobber an operator's annotation.
var snapshotColumns = []string{
	"upstream_order_id",
	"variant_id",
	"order_date",
	"ordered_qty",
	"initial_available",
	"initial_backordered",
	"snapshot_ts",
	"product_title",
	"title_sort",
	"product_sku",
	"product_barcode",
	"product_vendor",
	"product_pub_date",
	"unit_price",
	"catalog_attrs",
	"updated_at",
}

// UpsertSnapshot inserts a new record or, on (order_id, line_item_id)
// conflict, refreshes only the snapshot-derived columns.
func (s *Store) UpsertSnapshot(ctx context.Context, rec *models.BackorderLine) error {
	rec.InitialBackordered = Backordered(rec.OrderedQty, rec.InitialAvailable)

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "line_item_id"}},
		DoUpdates: clause.AssignmentColumns(snapshotColumns),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert backorder line: %w", err)
	}
	return nil
}

// ExcludePreorder takes an already-tracked record whose product has
// since been reclassified as an active preorder out of the shortfall
// queries. The record stays open; only rows staff never overrode are
// touched. Returns how many rows it excluded (0 when the line was
// never tracked).
func (s *Store) ExcludePreorder(ctx context.Context, orderID, lineItemID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.BackorderLine{}).
		Where("order_id = ? AND line_item_id = ? AND override_flag = ?", orderID, lineItemID, false).
		Updates(map[string]interface{}{
			"override_flag":   true,
			"override_reason": "reclassified as active preorder",
			"override_ts":     time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("exclude preorder: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Get loads one record by its composite key
func (s *Store) Get(ctx context.Context, orderID, lineItemID string) (*models.BackorderLine, error) {
	var rec models.BackorderLine
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND line_item_id = ?", orderID, lineItemID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// openShortfall scopes a query to the operator-facing set: open,
// untouched by staff, and still showing an inventory shortfall.
func (s *Store) openShortfall(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.BackorderLine{}).
		Where("status = ? AND override_flag = ? AND initial_available < 0", models.BackorderOpen, false)
}

// ageExpr is the later of publish date and order date, portable across
// postgres and the sqlite used in tests.
const ageExpr = "CASE WHEN product_pub_date IS NOT NULL AND product_pub_date > order_date THEN product_pub_date ELSE order_date END"

// DetailPage returns one fixed-size page of the detail view plus the
// total filtered record count. page is 1-based.
func (s *Store) DetailPage(ctx context.Context, page int, sort SortKey) ([]models.BackorderLine, int64, error) {
	if page < 1 {
		page = 1
	}

	q := s.openShortfall(ctx)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count backorder lines: %w", err)
	}

	switch sort {
	case SortVendor:
		q = q.Order("product_vendor ASC").Order("title_sort ASC")
	case SortTitle:
		q = q.Order("title_sort ASC")
	case SortQty:
		q = q.Order("ordered_qty DESC").Order("initial_available ASC")
	default: // SortAge
		q = q.Order(ageExpr + " ASC")
	}

	var recs []models.BackorderLine
	err := q.Limit(PageSize).Offset((page - 1) * PageSize).Find(&recs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query backorder page: %w", err)
	}
	return recs, total, nil
}

// AggregateRow is one title-level rollup of the open shortfall set
type AggregateRow struct {
	Barcode     string     `json:"barcode"`
	Title       string     `json:"title"`
	Vendor      string     `json:"vendor"`
	TotalQty    int        `json:"total_qty"`
	LineCount   int        `json:"line_count"`
	OldestOrder time.Time  `json:"oldest_order"`
	NewestOrder time.Time  `json:"newest_order"`
	EarliestETA *time.Time `json:"earliest_eta,omitempty"`
}

const barcodeKeyExpr = "CASE WHEN product_barcode = '' THEN '" + models.NoBarcode + "' ELSE product_barcode END"

// aggregateScan receives one raw aggregate row. The date columns come
// back as strings: an aggregate expression has no declared column
// type, so the sqlite driver hands over the stored text rather than a
// time.Time, and postgres timestamps convert to strings cleanly.
type aggregateScan struct {
	Barcode     string         `gorm:"column:barcode"`
	Title       string         `gorm:"column:title"`
	Vendor      string         `gorm:"column:vendor"`
	TotalQty    int            `gorm:"column:total_qty"`
	LineCount   int            `gorm:"column:line_count"`
	OldestOrder string         `gorm:"column:oldest_order"`
	NewestOrder string         `gorm:"column:newest_order"`
	EarliestETA sql.NullString `gorm:"column:earliest_eta"`
}

// driverTimeLayouts covers how the supported drivers render a
// timestamp scanned into a string
var driverTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDriverTime(s string) (time.Time, error) {
	for _, layout := range driverTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (r aggregateScan) row() (AggregateRow, error) {
	out := AggregateRow{
		Barcode:   r.Barcode,
		Title:     r.Title,
		Vendor:    r.Vendor,
		TotalQty:  r.TotalQty,
		LineCount: r.LineCount,
	}

	var err error
	if out.OldestOrder, err = parseDriverTime(r.OldestOrder); err != nil {
		return out, err
	}
	if out.NewestOrder, err = parseDriverTime(r.NewestOrder); err != nil {
		return out, err
	}
	if r.EarliestETA.Valid {
		eta, err := parseDriverTime(r.EarliestETA.String)
		if err != nil {
			return out, err
		}
		out.EarliestETA = &eta
	}
	return out, nil
}

func scanAggregate(q *gorm.DB) ([]AggregateRow, error) {
	var raw []aggregateScan
	if err := q.Scan(&raw).Error; err != nil {
		return nil, err
	}

	rows := make([]AggregateRow, 0, len(raw))
	for _, r := range raw {
		row, err := r.row()
		if err != nil {
			return nil, fmt.Errorf("barcode %s: %w", r.Barcode, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Aggregate groups the open shortfall set by barcode, one row per title
func (s *Store) Aggregate(ctx context.Context, sort AggSortKey) ([]AggregateRow, error) {
	q := s.openShortfall(ctx).
		Select(barcodeKeyExpr + " AS barcode, " +
			"MAX(product_title) AS title, " +
			"MAX(product_vendor) AS vendor, " +
			"SUM(ordered_qty) AS total_qty, " +
			"COUNT(*) AS line_count, " +
			"MIN(order_date) AS oldest_order, " +
			"MAX(order_date) AS newest_order, " +
			"MIN(eta_date) AS earliest_eta").
		Group(barcodeKeyExpr)

	switch sort {
	case AggSortTitle:
		q = q.Order("MAX(title_sort) ASC")
	default:
		q = q.Order("total_qty DESC")
	}

	rows, err := scanAggregate(q)
	if err != nil {
		return nil, fmt.Errorf("aggregate backorder lines: %w", err)
	}
	return rows, nil
}

// AggregateWindow is the export query: the same barcode rollup,
// restricted to orders placed inside [since, until], regardless of
// current shortfall sign. Serialization belongs to the caller.
func (s *Store) AggregateWindow(ctx context.Context, since, until time.Time) ([]AggregateRow, error) {
	q := s.db.WithContext(ctx).
		Model(&models.BackorderLine{}).
		Where("status = ? AND override_flag = ?", models.BackorderOpen, false).
		Where("order_date >= ? AND order_date <= ?", since, until).
		Select(barcodeKeyExpr + " AS barcode, " +
			"MAX(product_title) AS title, " +
			"MAX(product_vendor) AS vendor, " +
			"SUM(ordered_qty) AS total_qty, " +
			"COUNT(*) AS line_count, " +
			"MIN(order_date) AS oldest_order, " +
			"MAX(order_date) AS newest_order, " +
			"MIN(eta_date) AS earliest_eta").
		Group(barcodeKeyExpr).
		Order("total_qty DESC")

	rows, err := scanAggregate(q)
	if err != nil {
		return nil, fmt.Errorf("aggregate export window: %w", err)
	}
	return rows, nil
}

// RecentClosures returns the most recently overridden closed records,
// newest override first. This is the list undo indexes into.
func (s *Store) RecentClosures(ctx context.Context, limit int) ([]models.BackorderLine, error) {
	if limit <= 0 {
		limit = 10
	}
	var recs []models.BackorderLine
	err := s.db.WithContext(ctx).
		Where("status = ? AND override_flag = ?", models.BackorderClosed, true).
		Order("override_ts DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list recent closures: %w", err)
	}
	return recs, nil
}
