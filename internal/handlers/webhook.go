package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/lopbooks/backorderd/internal/backorder"
	"github.com/lopbooks/backorderd/internal/models"
	"github.com/lopbooks/backorderd/internal/utils"
)

const signatureHeader = "X-Shopify-Hmac-Sha256"

// maxWebhookBody bounds how much of a webhook payload we are willing
// to read before verifying anything about it
const maxWebhookBody = 2 << 20

// orderCreated handles the orders/create push event. The signature is
// verified over the raw body before any decoding; a mismatch is an
// authentication failure regardless of payload content.
func (r *Router) orderCreated(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	if !utils.VerifyWebhookSignature(body, req.Header.Get(signatureHeader), r.deps.WebhookSecret) {
		respondError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	var payload models.OrderWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	// Re-fetch the order through the upstream client: the webhook body
	// lacks variant barcodes, and the client normalizes line shapes for
	// the snapshot builder.
	orderRef := strconv.FormatInt(payload.ID, 10)
	order, err := r.deps.Fetcher.FetchOrderLines(req.Context(), orderRef)
	if err != nil {
		log.Printf("❌ Webhook: failed to fetch order %s: %v", payload.Name, err)
		respondError(w, http.StatusBadGateway, "Failed to fetch order from upstream")
		return
	}

	octx := backorder.OrderContext{
		OrderID:         order.Name,
		UpstreamOrderID: order.ID,
		OrderDate:       order.CreatedAt,
	}
	if octx.OrderID == "" {
		octx.OrderID = payload.Name
	}

	stats := r.deps.Ingestor.IngestOrder(req.Context(), octx, order.Lines)
	log.Printf("📬 Webhook: order %s ingested (%d upserted, %d preorders, %d failed)",
		octx.OrderID, stats.Upserted, stats.Preorders, stats.Failed)

	// Per-line failures were logged and skipped; the event itself is
	// acknowledged so upstream does not redeliver.
	respondJSON(w, http.StatusOK, stats)
}
