package backorder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lopbooks/backorderd/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.BackorderLine{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func openLine(orderID, lineItemID string) *models.BackorderLine {
	return &models.BackorderLine{
		OrderID:          orderID,
		UpstreamOrderID:  "gid://shopify/Order/1",
		LineItemID:       lineItemID,
		VariantID:        "v1",
		OrderDate:        time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		OrderedQty:       2,
		InitialAvailable: -1,
		SnapshotTS:       time.Date(2025, 5, 1, 0, 5, 0, 0, time.UTC),
		Status:           models.BackorderOpen,
		ProductTitle:     "Dune",
		TitleSort:        "dune",
		ProductBarcode:   "9780441013593",
		ProductVendor:    "Ace",
	}
}

func mustUpsert(t *testing.T, s *Store, rec *models.BackorderLine) {
	t.Helper()
	if err := s.UpsertSnapshot(context.Background(), rec); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	first := openLine("#1001", "li-1")
	mustUpsert(t, s, first)

	second := openLine("#1001", "li-1")
	second.InitialAvailable = -4
	second.SnapshotTS = first.SnapshotTS.Add(time.Hour)
	mustUpsert(t, s, second)

	var count int64
	if err := s.db.Model(&models.BackorderLine{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record after double ingestion, got %d", count)
	}

	got, err := s.Get(ctx, "#1001", "li-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.InitialAvailable != -4 {
		t.Errorf("snapshot fields should match the second ingestion, got available=%d", got.InitialAvailable)
	}
	if got.InitialBackordered != 6 {
		t.Errorf("InitialBackordered = %d, want 6", got.InitialBackordered)
	}
}

func TestUpsertPreservesStaffFields(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)
	w := NewWorkflow(db)
	ctx := context.Background()

	mustUpsert(t, s, openLine("#1001", "li-1"))

	if err := w.Override(ctx, "#1001", "li-1", ActionClose, "customer picked up in store"); err != nil {
		t.Fatalf("override failed: %v", err)
	}

	// A batch reconciliation re-touches the same line
	again := openLine("#1001", "li-1")
	again.InitialAvailable = 5
	mustUpsert(t, s, again)

	got, err := s.Get(ctx, "#1001", "li-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.BackorderClosed {
		t.Errorf("re-ingestion must not reopen a closed record, got status=%q", got.Status)
	}
	if !got.OverrideFlag {
		t.Error("override_flag must survive re-ingestion")
	}
	if got.OverrideReason == nil || *got.OverrideReason != "customer picked up in store" {
		t.Errorf("override_reason must survive re-ingestion, got %v", got.OverrideReason)
	}
	if got.InitialAvailable != 5 {
		t.Errorf("snapshot fields should still refresh, got available=%d", got.InitialAvailable)
	}
}

func TestClosedImpliesOverridden(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)
	w := NewWorkflow(db)
	ctx := context.Background()

	mustUpsert(t, s, openLine("#1001", "li-1"))
	if _, err := w.FulfillOrder(ctx, "#1001"); err != nil {
		t.Fatal(err)
	}

	var closed []models.BackorderLine
	if err := db.Where("status = ?", models.BackorderClosed).Find(&closed).Error; err != nil {
		t.Fatal(err)
	}
	for _, rec := range closed {
		if !rec.OverrideFlag {
			t.Errorf("record %s/%s closed without override_flag", rec.OrderID, rec.LineItemID)
		}
		if rec.OverrideReason == nil || *rec.OverrideReason == "" {
			t.Errorf("record %s/%s closed without a reason", rec.OrderID, rec.LineItemID)
		}
		if rec.OverrideTS == nil {
			t.Errorf("record %s/%s closed without a timestamp", rec.OrderID, rec.LineItemID)
		}
	}
}

func TestDetailPagePagination(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	// 15 open shortfall records
	for i := 0; i < 15; i++ {
		rec := openLine(fmt.Sprintf("#10%02d", i), "li-1")
		mustUpsert(t, s, rec)
	}

	page1, total, err := s.DetailPage(ctx, 1, SortAge)
	if err != nil {
		t.Fatal(err)
	}
	if total != 15 {
		t.Errorf("total = %d, want 15", total)
	}
	if len(page1) != 10 {
		t.Errorf("page 1 has %d rows, want 10", len(page1))
	}

	page2, _, err := s.DetailPage(ctx, 2, SortAge)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 5 {
		t.Errorf("page 2 has %d rows, want 5", len(page2))
	}
}

func TestDetailPageFiltersOverriddenAndInStock(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db)
	w := NewWorkflow(db)
	ctx := context.Background()

	mustUpsert(t, s, openLine("#1001", "li-1"))

	inStock := openLine("#1002", "li-1")
	inStock.InitialAvailable = 3
	mustUpsert(t, s, inStock)

	mustUpsert(t, s, openLine("#1003", "li-1"))
	if err := w.Override(ctx, "#1003", "li-1", ActionExclude, "misclassified preorder"); err != nil {
		t.Fatal(err)
	}

	recs, total, err := s.DetailPage(ctx, 1, SortAge)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(recs) != 1 {
		t.Fatalf("expected exactly the one shortfall record, got total=%d len=%d", total, len(recs))
	}
	if recs[0].OrderID != "#1001" {
		t.Errorf("unexpected record %s", recs[0].OrderID)
	}
}

func TestDetailPageSortOrders(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	a := openLine("#1001", "li-1")
	a.ProductTitle = "The Dispossessed"
	a.TitleSort = "dispossessed"
	a.ProductVendor = "Harper"
	a.OrderedQty = 2
	a.OrderDate = time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	mustUpsert(t, s, a)

	b := openLine("#1002", "li-1")
	b.ProductTitle = "Annihilation"
	b.TitleSort = "annihilation"
	b.ProductVendor = "FSG"
	b.OrderedQty = 7
	b.OrderDate = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	mustUpsert(t, s, b)

	c := openLine("#1003", "li-1")
	c.ProductTitle = "A Memory Called Empire"
	c.TitleSort = "memory called empire"
	c.ProductVendor = "Tor"
	c.OrderedQty = 7
	c.InitialAvailable = -5
	c.OrderDate = time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)
	// Future pub date pushes the age anchor past the order date
	pub := time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC)
	c.ProductPubDate = &pub
	mustUpsert(t, s, c)

	byAge, _, err := s.DetailPage(ctx, 1, SortAge)
	if err != nil {
		t.Fatal(err)
	}
	if got := orderIDs(byAge); got[0] != "#1002" || got[2] != "#1003" {
		t.Errorf("age sort: got %v", got)
	}

	byTitle, _, err := s.DetailPage(ctx, 1, SortTitle)
	if err != nil {
		t.Fatal(err)
	}
	if got := orderIDs(byTitle); got[0] != "#1002" || got[1] != "#1001" || got[2] != "#1003" {
		t.Errorf("title sort: got %v", got)
	}

	byQty, _, err := s.DetailPage(ctx, 1, SortQty)
	if err != nil {
		t.Fatal(err)
	}
	// Quantity ties break toward the more oversold line
	if got := orderIDs(byQty); got[0] != "#1003" || got[1] != "#1002" || got[2] != "#1001" {
		t.Errorf("qty sort: got %v", got)
	}

	byVendor, _, err := s.DetailPage(ctx, 1, SortVendor)
	if err != nil {
		t.Fatal(err)
	}
	if got := orderIDs(byVendor); got[0] != "#1002" || got[1] != "#1001" || got[2] != "#1003" {
		t.Errorf("vendor sort: got %v", got)
	}
}

func orderIDs(recs []models.BackorderLine) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.OrderID
	}
	return out
}

func TestAggregateGroupsByBarcode(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	a := openLine("#1001", "li-1")
	a.OrderedQty = 3
	a.OrderDate = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	mustUpsert(t, s, a)

	b := openLine("#1002", "li-1")
	b.OrderedQty = 4
	b.OrderDate = time.Date(2025, 5, 9, 0, 0, 0, 0, time.UTC)
	eta := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	mustUpsert(t, s, b)
	// ETA set after ingestion, as staff would
	w := NewWorkflow(s.db)
	if _, err := w.SetETA(ctx, ETAScope{Barcode: b.ProductBarcode}, eta); err != nil {
		t.Fatal(err)
	}

	other := openLine("#1003", "li-1")
	other.ProductBarcode = ""
	other.OrderedQty = 1
	mustUpsert(t, s, other)

	rows, err := s.Aggregate(ctx, AggSortQty)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 aggregate rows, got %d", len(rows))
	}

	top := rows[0]
	if top.Barcode != "9780441013593" {
		t.Fatalf("expected the Dune barcode first, got %q", top.Barcode)
	}
	if top.TotalQty != 7 {
		t.Errorf("TotalQty = %d, want 7", top.TotalQty)
	}
	if !top.OldestOrder.Equal(a.OrderDate) || !top.NewestOrder.Equal(b.OrderDate) {
		t.Errorf("oldest/newest = %v/%v", top.OldestOrder, top.NewestOrder)
	}
	if top.EarliestETA == nil || !top.EarliestETA.Equal(eta) {
		t.Errorf("EarliestETA = %v, want %v", top.EarliestETA, eta)
	}

	if rows[1].Barcode != models.NoBarcode {
		t.Errorf("blank barcode should group under %q, got %q", models.NoBarcode, rows[1].Barcode)
	}
}

func TestParseDriverTime(t *testing.T) {
	want := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	tests := []string{
		"2025-05-01T09:30:00Z",               // postgres, RFC3339
		"2025-05-01 09:30:00+00:00",          // sqlite stored text
		"2025-05-01 09:30:00.000000000+00:00",
	}
	for _, in := range tests {
		got, err := parseDriverTime(in)
		if err != nil {
			t.Errorf("parseDriverTime(%q): %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseDriverTime(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := parseDriverTime("not a timestamp"); err == nil {
		t.Error("expected an error for garbage input")
	}
}

func TestAggregateWindow(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	inside := openLine("#1001", "li-1")
	inside.OrderDate = time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	mustUpsert(t, s, inside)

	outside := openLine("#1002", "li-1")
	outside.OrderDate = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mustUpsert(t, s, outside)

	rows, err := s.AggregateWindow(ctx,
		time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row inside the window, got %d", len(rows))
	}
	if rows[0].TotalQty != 2 {
		t.Errorf("TotalQty = %d, want 2", rows[0].TotalQty)
	}
}
