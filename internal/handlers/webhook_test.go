package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lopbooks/backorderd/internal/backorder"
	"github.com/lopbooks/backorderd/internal/models"
	"github.com/lopbooks/backorderd/internal/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testWebhookSecret = "shpss_test"

type stubUpstream struct{}

func (stubUpstream) FetchInventoryItemID(_ context.Context, variantID string) (string, error) {
	return "inv-" + variantID, nil
}

func (stubUpstream) FetchAvailable(_ context.Context, _ string) (int, error) {
	return -2, nil
}

func (stubUpstream) FetchCatalogAttributes(_ context.Context, _ string) (*models.CatalogAttributes, error) {
	return &models.CatalogAttributes{}, nil
}

type stubFetcher struct {
	order *models.UpstreamOrder
	err   error
}

func (f *stubFetcher) FetchOrderLines(_ context.Context, _ string) (*models.UpstreamOrder, error) {
	return f.order, f.err
}

func testRouter(t *testing.T, fetcher OrderFetcher) (*Router, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&models.BackorderLine{}); err != nil {
		t.Fatal(err)
	}

	store := backorder.NewStore(db)
	builder := backorder.NewSnapshotBuilder(stubUpstream{}, backorder.NewClassifier())

	r := NewRouter(db, Deps{
		JWTSecret:     "test-jwt",
		WebhookSecret: testWebhookSecret,
		Fetcher:       fetcher,
		Ingestor:      backorder.NewIngestor(builder, store),
		Store:         store,
		Workflow:      backorder.NewWorkflow(db),
		Views:         backorder.NewViewBuilder(store),
	})
	return r, db
}

func webhookBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(models.OrderWebhook{
		ID:        77,
		Name:      "#1042",
		CreatedAt: time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	r, db := testRouter(t, &stubFetcher{})

	body := webhookBody(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "not-a-real-signature")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	var count int64
	db.Model(&models.BackorderLine{}).Count(&count)
	if count != 0 {
		t.Error("nothing may be persisted for an unauthenticated event")
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	r, _ := testRouter(t, &stubFetcher{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", bytes.NewReader(webhookBody(t)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestWebhookIngestsOrder(t *testing.T) {
	fetcher := &stubFetcher{order: &models.UpstreamOrder{
		ID:        "gid://shopify/Order/77",
		Name:      "#1042",
		CreatedAt: time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC),
		Lines: []models.OrderLine{
			{LineItemID: "li-1", VariantID: "v1", ProductID: "p1", Title: "Dune", Quantity: 3, Barcode: "9780441013593"},
			{LineItemID: "li-2", VariantID: "v2", ProductID: "p2", Title: "Piranesi", Quantity: 1},
		},
	}}
	r, db := testRouter(t, fetcher)

	body := webhookBody(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", bytes.NewReader(body))
	req.Header.Set(signatureHeader, utils.ComputeWebhookSignature(body, testWebhookSecret))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}

	var stats backorder.IngestStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Upserted != 2 {
		t.Errorf("upserted = %d, want 2", stats.Upserted)
	}

	var rec models.BackorderLine
	if err := db.Where("order_id = ? AND line_item_id = ?", "#1042", "li-1").First(&rec).Error; err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if rec.InitialBackordered != 5 {
		t.Errorf("InitialBackordered = %d, want 5 (3 - (-2))", rec.InitialBackordered)
	}
}

func TestWebhookUpstreamFailure(t *testing.T) {
	r, _ := testRouter(t, &stubFetcher{err: errors.New("upstream down")})

	body := webhookBody(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/create", bytes.NewReader(body))
	req.Header.Set(signatureHeader, utils.ComputeWebhookSignature(body, testWebhookSecret))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
}
