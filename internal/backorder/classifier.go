package backorder

import (
	"strings"
	"time"

	"github.com/lopbooks/backorderd/internal/models"
)

// Classifier decides whether a product's line items are active
// preorders and must be excluded from backorder tracking.
//
// It votes over independent catalog signals instead of trusting any
// one of them: a stale "preorder" tag left after a title's release
// must not hide a real backorder, and a single odd collection
// membership must not suppress a legitimate preorder. A product is an
// active preorder only when a majority of signals agree.
type Classifier struct {
	PreorderTag        string
	PreorderCollection string
	DateMetafield      string
	DateTagPrefix      string

	signals []signal
}

type signal struct {
	name string
	eval func(c *Classifier, attrs *models.CatalogAttributes, now time.Time) bool
}

// NewClassifier creates a classifier with the store's catalog conventions
func NewClassifier() *Classifier {
	c := &Classifier{
		PreorderTag:        "preorder",
		PreorderCollection: "Preorder",
		DateMetafield:      "publication_date",
		DateTagPrefix:      "pub-date:",
	}
	c.signals = []signal{
		{"tag", (*Classifier).hasPreorderTag},
		{"collection", (*Classifier).inPreorderCollection},
		{"future-date", (*Classifier).hasFuturePublishDate},
	}
	return c
}

// IsActivePreorder reports whether at least two of the three catalog
// signals mark the product as a preorder. A nil attrs (attribute
// lookup failed upstream) fails open: the line stays visible as a
// backorder candidate.
func (c *Classifier) IsActivePreorder(attrs *models.CatalogAttributes, now time.Time) bool {
	if attrs == nil {
		return false
	}
	votes := 0
	for _, s := range c.signals {
		if s.eval(c, attrs, now) {
			votes++
		}
	}
	return votes >= 2
}

func (c *Classifier) hasPreorderTag(attrs *models.CatalogAttributes, _ time.Time) bool {
	for _, tag := range attrs.Tags {
		if strings.EqualFold(strings.TrimSpace(tag), c.PreorderTag) {
			return true
		}
	}
	return false
}

func (c *Classifier) inPreorderCollection(attrs *models.CatalogAttributes, _ time.Time) bool {
	for _, col := range attrs.Collections {
		if strings.Contains(col, c.PreorderCollection) {
			return true
		}
	}
	return false
}

func (c *Classifier) hasFuturePublishDate(attrs *models.CatalogAttributes, now time.Time) bool {
	d := c.PublishDate(attrs)
	return d != nil && d.After(now)
}

// PublishDate extracts the product's publish/arrival date, preferring
// the metafield over a date-encoding tag. Returns nil when absent or
// unparseable.
func (c *Classifier) PublishDate(attrs *models.CatalogAttributes) *time.Time {
	if attrs == nil {
		return nil
	}
	if raw, ok := attrs.Metafields[c.DateMetafield]; ok {
		if d := parseDate(raw); d != nil {
			return d
		}
	}
	for _, tag := range attrs.Tags {
		t := strings.TrimSpace(tag)
		if len(t) > len(c.DateTagPrefix) && strings.EqualFold(t[:len(c.DateTagPrefix)], c.DateTagPrefix) {
			if d := parseDate(t[len(c.DateTagPrefix):]); d != nil {
				return d
			}
		}
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, raw); err == nil {
			d = d.UTC()
			return &d
		}
	}
	return nil
}
