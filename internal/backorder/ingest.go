package backorder

import (
	"context"
	"errors"
	"log"

	"github.com/lopbooks/backorderd/internal/models"
)

// IngestStats summarizes one order's trip through the ingestion
// gateway. A line is counted exactly once.
type IngestStats struct {
	Upserted  int `json:"upserted"`
	Preorders int `json:"preorders_skipped"`
	Failed    int `json:"failed"`
}

// Ingestor funnels order lines through the single idempotent
// persistence operation. Both the push path and the batch path go
// through here; neither gets its own write semantics.
type Ingestor struct {
	builder *SnapshotBuilder
	store   *Store
}

// NewIngestor creates an ingestor
func NewIngestor(builder *SnapshotBuilder, store *Store) *Ingestor {
	return &Ingestor{builder: builder, store: store}
}

// IngestOrder snapshots and upserts every line of one order. One
// line's failure never aborts its siblings; failures are logged and
// counted.
func (i *Ingestor) IngestOrder(ctx context.Context, octx OrderContext, lines []models.OrderLine) IngestStats {
	var stats IngestStats

	for _, line := range lines {
		rec, err := i.builder.Build(ctx, octx, line)
		if err != nil {
			if errors.Is(err, ErrPreorder) {
				stats.Preorders++
				// A line tracked before the reclassification must drop
				// out of the shortfall queries.
				n, exErr := i.store.ExcludePreorder(ctx, octx.OrderID, line.LineItemID)
				if exErr != nil {
					log.Printf("⚠️ Order %s line %s preorder exclusion failed: %v", octx.OrderID, line.LineItemID, exErr)
				} else if n > 0 {
					log.Printf("🏷️ Order %s line %s reclassified as preorder, excluded", octx.OrderID, line.LineItemID)
				}
				continue
			}
			log.Printf("⚠️ Order %s line %s skipped: %v", octx.OrderID, line.LineItemID, err)
			stats.Failed++
			continue
		}

		if err := i.store.UpsertSnapshot(ctx, rec); err != nil {
			log.Printf("❌ Order %s line %s upsert failed: %v", octx.OrderID, line.LineItemID, err)
			stats.Failed++
			continue
		}
		stats.Upserted++
	}

	return stats
}
