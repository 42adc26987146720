package backorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lopbooks/backorderd/internal/models"
	"github.com/shopspring/decimal"
)

// ErrPreorder marks a line item classified as an active preorder; the
// caller skips it without treating the order as failed.
var ErrPreorder = errors.New("backorder: line item is an active preorder")

// Upstream is the slice of the commerce API the snapshot builder needs
type Upstream interface {
	FetchInventoryItemID(ctx context.Context, variantID string) (string, error)
	FetchAvailable(ctx context.Context, inventoryItemID string) (int, error)
	FetchCatalogAttributes(ctx context.Context, productID string) (*models.CatalogAttributes, error)
}

// OrderContext carries the order-level facts shared by every line of
// one ingested order.
type OrderContext struct {
	OrderID         string // human-facing order number
	UpstreamOrderID string
	OrderDate       time.Time
}

// SnapshotBuilder composes upstream calls into one normalized
// backorder record per order line.
type SnapshotBuilder struct {
	upstream   Upstream
	classifier *Classifier
	now        func() time.Time
}

// NewSnapshotBuilder creates a snapshot builder
func NewSnapshotBuilder(upstream Upstream, classifier *Classifier) *SnapshotBuilder {
	return &SnapshotBuilder{
		upstream:   upstream,
		classifier: classifier,
		now:        time.Now,
	}
}

// Build assembles the full record for one order line. Returns
// ErrPreorder when the line is classified as an active preorder; any
// other error means this one line failed and siblings should continue.
func (b *SnapshotBuilder) Build(ctx context.Context, octx OrderContext, line models.OrderLine) (*models.BackorderLine, error) {
	invItemID, err := b.upstream.FetchInventoryItemID(ctx, line.VariantID)
	if err != nil {
		return nil, fmt.Errorf("resolve inventory item for variant %s: %w", line.VariantID, err)
	}

	available, err := b.upstream.FetchAvailable(ctx, invItemID)
	if err != nil {
		return nil, fmt.Errorf("fetch available for %s: %w", invItemID, err)
	}

	// Classification fails open: a line we cannot classify must still
	// surface as a backorder candidate.
	attrs, err := b.upstream.FetchCatalogAttributes(ctx, line.ProductID)
	if err != nil {
		log.Printf("⚠️ Catalog lookup failed for %s, treating as not-preorder: %v", line.ProductID, err)
		attrs = nil
	}

	now := b.now().UTC()
	if b.classifier.IsActivePreorder(attrs, now) {
		return nil, ErrPreorder
	}

	rec := &models.BackorderLine{
		OrderID:            octx.OrderID,
		UpstreamOrderID:    octx.UpstreamOrderID,
		LineItemID:         line.LineItemID,
		VariantID:          line.VariantID,
		OrderDate:          octx.OrderDate.UTC(),
		OrderedQty:         line.Quantity,
		InitialAvailable:   available,
		InitialBackordered: Backordered(line.Quantity, available),
		SnapshotTS:         now,
		Status:             models.BackorderOpen,
		ProductTitle:       line.Title,
		TitleSort:          TitleSortKey(line.Title),
		ProductSKU:         line.SKU,
		ProductBarcode:     strings.TrimSpace(line.Barcode),
		ProductVendor:      line.Vendor,
	}

	if attrs != nil {
		rec.ProductPubDate = b.classifier.PublishDate(attrs)
		if line.Vendor == "" {
			rec.ProductVendor = attrs.Vendor
		}
		if raw, err := json.Marshal(attrs); err == nil {
			rec.CatalogAttrs = raw
		}
	}

	if line.Price != "" {
		if price, err := decimal.NewFromString(line.Price); err == nil {
			rec.UnitPrice = decimal.NewNullDecimal(price)
		}
	}

	return rec, nil
}

// Backordered computes the tracked shortfall for one line:
// max(0, ordered - available). Available may be negative (oversold),
// which increases the shortfall.
func Backordered(orderedQty, available int) int {
	if n := orderedQty - available; n > 0 {
		return n
	}
	return 0
}

// TitleSortKey returns an article-agnostic lowercase sort key:
// "The Hobbit" and "Hobbit" sort together.
func TitleSortKey(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(t, article) {
			return t[len(article):]
		}
	}
	return t
}
