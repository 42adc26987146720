package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BackorderStatus defines the lifecycle state of a backorder line
type BackorderStatus string

const (
	BackorderOpen   BackorderStatus = "open"
	BackorderClosed BackorderStatus = "closed"
)

// NoBarcode is the grouping placeholder for lines whose variant carries
// no barcode.
const NoBarcode = "NO BARCODE"

// BackorderLine is one tracked line item: a unit sold before it was
// physically available. One row per (order_id, line_item_id); rows are
// updated in place on re-ingestion and never deleted.
type BackorderLine struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Identity
	OrderID         string `gorm:"column:order_id;uniqueIndex:idx_order_line;not null" json:"order_id"`
	UpstreamOrderID string `gorm:"column:upstream_order_id;index" json:"upstream_order_id"`
	LineItemID      string `gorm:"column:line_item_id;uniqueIndex:idx_order_line;not null" json:"line_item_id"`
	VariantID       string `gorm:"column:variant_id;index" json:"variant_id"`

	// Snapshot-derived quantities (refreshed on every ingestion)
	OrderDate          time.Time `gorm:"column:order_date;index" json:"order_date"`
	OrderedQty         int       `gorm:"column:ordered_qty" json:"ordered_qty"`
	InitialAvailable   int       `gorm:"column:initial_available" json:"initial_available"`
	InitialBackordered int       `gorm:"column:initial_backordered" json:"initial_backordered"`
	SnapshotTS         time.Time `gorm:"column:snapshot_ts" json:"snapshot_ts"`

	// Lifecycle state (staff-owned, never touched by ingestion)
	Status         BackorderStatus `gorm:"column:status;default:open;index" json:"status"`
	OverrideFlag   bool            `gorm:"column:override_flag;default:false;index" json:"override_flag"`
	OverrideReason *string         `gorm:"column:override_reason" json:"override_reason,omitempty"`
	OverrideTS     *time.Time      `gorm:"column:override_ts;index" json:"override_ts,omitempty"`
	ETADate        *time.Time      `gorm:"column:eta_date" json:"eta_date,omitempty"`

	// Denormalized catalog attributes, captured at snapshot time
	ProductTitle   string              `gorm:"column:product_title" json:"product_title"`
	TitleSort      string              `gorm:"column:title_sort;index" json:"-"`
	ProductSKU     string              `gorm:"column:product_sku;index" json:"product_sku"`
	ProductBarcode string              `gorm:"column:product_barcode;index" json:"product_barcode"`
	ProductVendor  string              `gorm:"column:product_vendor" json:"product_vendor"`
	ProductPubDate *time.Time          `gorm:"column:product_pub_date" json:"product_pub_date,omitempty"`
	UnitPrice      decimal.NullDecimal `gorm:"column:unit_price;type:numeric" json:"unit_price,omitempty"`
	CatalogAttrs   datatypes.JSON      `gorm:"column:catalog_attrs" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for BackorderLine
func (BackorderLine) TableName() string {
	return "backorder_lines"
}

// AgeAnchor returns the moment a line started counting as "open": the
// later of publish date and order date.
func (b *BackorderLine) AgeAnchor() time.Time {
	if b.ProductPubDate != nil && b.ProductPubDate.After(b.OrderDate) {
		return *b.ProductPubDate
	}
	return b.OrderDate
}

// BarcodeKey returns the barcode used for ISBN-level grouping, with the
// NO BARCODE placeholder for blank values.
func (b *BackorderLine) BarcodeKey() string {
	if b.ProductBarcode == "" {
		return NoBarcode
	}
	return b.ProductBarcode
}
