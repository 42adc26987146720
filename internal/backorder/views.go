package backorder

import (
	"context"
	"fmt"
	"time"

	"github.com/lopbooks/backorderd/internal/models"
)

// DetailRow is one rendered record of the detail view
type DetailRow struct {
	models.BackorderLine
	StatusText string `json:"status_text"`
}

// DetailPage is one rendered page of the detail view
type DetailPage struct {
	Rows       []DetailRow `json:"rows"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalRows  int64       `json:"total_rows"`
	TotalPages int         `json:"total_pages"`
	Sort       SortKey     `json:"sort"`
}

// ViewBuilder turns store queries into the result sets the operator
// console renders. It only reads.
type ViewBuilder struct {
	store *Store
	now   func() time.Time
}

// NewViewBuilder creates a view builder
func NewViewBuilder(store *Store) *ViewBuilder {
	return &ViewBuilder{store: store, now: time.Now}
}

// Detail returns one page of open shortfall records with rendered
// status text
func (v *ViewBuilder) Detail(ctx context.Context, page int, sort SortKey) (*DetailPage, error) {
	recs, total, err := v.store.DetailPage(ctx, page, sort)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}

	now := v.now().UTC()
	out := &DetailPage{
		Page:      page,
		PageSize:  PageSize,
		TotalRows: total,
		Sort:      sort,
	}
	out.TotalPages = int((total + PageSize - 1) / PageSize)
	for _, rec := range recs {
		out.Rows = append(out.Rows, DetailRow{
			BackorderLine: rec,
			StatusText:    StatusText(&rec, now),
		})
	}
	return out, nil
}

// Aggregate returns the title-level rollup of the open shortfall set
func (v *ViewBuilder) Aggregate(ctx context.Context, sort AggSortKey) ([]AggregateRow, error) {
	return v.store.Aggregate(ctx, sort)
}

// Export returns the windowed rollup used for tabular export.
// Serialization (CSV, PDF) is the caller's concern.
func (v *ViewBuilder) Export(ctx context.Context, since, until time.Time) ([]AggregateRow, error) {
	if until.Before(since) {
		since, until = until, since
	}
	return v.store.AggregateWindow(ctx, since, until)
}

// StatusText renders the operator-facing age line for one record:
// "releases in N days" while the title is still unreleased, otherwise
// "N days open" counted from the later of publish date and order date.
func StatusText(rec *models.BackorderLine, now time.Time) string {
	if rec.ProductPubDate != nil && rec.ProductPubDate.After(now) {
		n := daysBetween(now, *rec.ProductPubDate)
		return fmt.Sprintf("releases in %d days", n)
	}
	n := daysBetween(rec.AgeAnchor(), now)
	return fmt.Sprintf("%d days open", n)
}

// daysBetween counts whole days from a to b, never negative
func daysBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	return int(b.Sub(a).Hours() / 24)
}
