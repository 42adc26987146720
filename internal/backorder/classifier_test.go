package backorder

import (
	"testing"
	"time"

	"github.com/lopbooks/backorderd/internal/models"
)

var classifierNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func attrsWith(tag, collection, futureDate bool) *models.CatalogAttributes {
	attrs := &models.CatalogAttributes{Metafields: map[string]string{}}
	if tag {
		attrs.Tags = append(attrs.Tags, "Preorder")
	}
	if collection {
		attrs.Collections = append(attrs.Collections, "Preorder - Fall 2025")
	}
	if futureDate {
		attrs.Metafields["publication_date"] = "2025-09-15"
	} else {
		attrs.Metafields["publication_date"] = "2024-01-10"
	}
	return attrs
}

func TestMajorityVote(t *testing.T) {
	tests := []struct {
		name                      string
		tag, collection, futureDate bool
		want                      bool
	}{
		{"all three signals", true, true, true, true},
		{"tag and future date", true, false, true, true},
		{"tag and collection", true, true, false, true},
		{"collection and future date", false, true, true, true},
		{"stale tag alone", true, false, false, false},
		{"collection alone", false, true, false, false},
		{"future date alone", false, false, true, false},
		{"no signals", false, false, false, false},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.IsActivePreorder(attrsWith(tt.tag, tt.collection, tt.futureDate), classifierNow)
			if got != tt.want {
				t.Errorf("IsActivePreorder = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailsOpenOnMissingAttributes(t *testing.T) {
	c := NewClassifier()
	if c.IsActivePreorder(nil, classifierNow) {
		t.Error("nil attributes must classify as not-preorder")
	}
}

func TestTagMatchIsCaseInsensitive(t *testing.T) {
	c := NewClassifier()
	attrs := &models.CatalogAttributes{
		Tags:        []string{" PREORDER "},
		Collections: []string{"New Releases Preorder"},
	}
	if !c.IsActivePreorder(attrs, classifierNow) {
		t.Error("expected preorder: tag (any case) plus collection")
	}
}

func TestPublishDateFromDateTag(t *testing.T) {
	c := NewClassifier()
	attrs := &models.CatalogAttributes{
		Tags: []string{"fiction", "pub-date:2025-09-15"},
	}
	d := c.PublishDate(attrs)
	if d == nil {
		t.Fatal("expected a publish date from the date tag")
	}
	if d.Year() != 2025 || d.Month() != time.September || d.Day() != 15 {
		t.Errorf("unexpected date %v", d)
	}
}

func TestPublishDateMetafieldWins(t *testing.T) {
	c := NewClassifier()
	attrs := &models.CatalogAttributes{
		Tags:       []string{"pub-date:2030-01-01"},
		Metafields: map[string]string{"publication_date": "2025-03-03"},
	}
	d := c.PublishDate(attrs)
	if d == nil || d.Year() != 2025 {
		t.Errorf("metafield should take precedence, got %v", d)
	}
}

func TestUnparseableDateIsIgnored(t *testing.T) {
	c := NewClassifier()
	attrs := &models.CatalogAttributes{
		Metafields: map[string]string{"publication_date": "next spring"},
	}
	if d := c.PublishDate(attrs); d != nil {
		t.Errorf("expected nil for unparseable date, got %v", d)
	}
}
