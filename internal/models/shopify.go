package models

import "time"

// Shopify wire types. These mirror the Admin API payloads we consume;
// only the fields the engine actually reads are declared.

// OrderWebhook is the orders/create webhook payload (REST shape)
type OrderWebhook struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"` // human-facing order number, e.g. "#1042"
	CreatedAt   time.Time         `json:"created_at"`
	ProcessedAt *time.Time        `json:"processed_at"`
	LineItems   []WebhookLineItem `json:"line_items"`
}

// WebhookLineItem is one line of an orders/create webhook payload
type WebhookLineItem struct {
	ID        int64  `json:"id"`
	VariantID int64  `json:"variant_id"`
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	SKU       string `json:"sku"`
	Vendor    string `json:"vendor"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"` // Shopify sends money as strings
}

// OrderLine is one normalized order line from the Admin GraphQL API
type OrderLine struct {
	LineItemID string
	VariantID  string
	ProductID  string
	Title      string
	SKU        string
	Barcode    string
	Vendor     string
	Quantity   int
	Price      string
}

// UpstreamOrder is one order header from the Admin GraphQL API
type UpstreamOrder struct {
	ID        string // GID, e.g. "gid://shopify/Order/123"
	Name      string // human-facing order number
	CreatedAt time.Time
	Lines     []OrderLine
}

// CatalogAttributes are the product facts the preorder classifier votes
// over, captured as-is from the catalog at snapshot time.
type CatalogAttributes struct {
	Tags        []string          `json:"tags"`
	Collections []string          `json:"collections"`
	Metafields  map[string]string `json:"metafields"`
	Vendor      string            `json:"vendor"`
	Title       string            `json:"title"`
}
