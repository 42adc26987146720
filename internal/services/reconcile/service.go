package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lopbooks/backorderd/internal/backorder"
	"github.com/lopbooks/backorderd/internal/services/shopify"
)

// Lister is the slice of the upstream client the batch path needs
type Lister interface {
	ListOrdersSince(ctx context.Context, since time.Time, pageSize int, cursor string) (*shopify.OrdersPage, error)
}

// Config holds batch reconciliation settings
type Config struct {
	Interval  time.Duration // 0 disables the background loop
	SinceDays int
	PageSize  int
	Pacing    time.Duration // fixed delay between successive upstream calls
}

// Summary describes one completed reconciliation run
type Summary struct {
	RunID      string    `json:"run_id"`
	Since      time.Time `json:"since"`
	OrdersSeen int       `json:"orders_seen"`
	Upserted   int       `json:"lines_upserted"`
	Preorders  int       `json:"preorders_skipped"`
	Failed     int       `json:"lines_failed"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

// Service re-walks a window of upstream orders through the same
// snapshot-and-upsert flow the push path uses, to backfill history or
// correct drift. Runs never roll back partial progress.
type Service struct {
	lister   Lister
	ingestor *backorder.Ingestor
	cfg      Config
	stop     chan struct{}

	mu      sync.Mutex
	running bool

	sleep func(time.Duration)
}

// NewService creates a reconciliation service
func NewService(lister Lister, ingestor *backorder.Ingestor, cfg Config) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.SinceDays <= 0 {
		cfg.SinceDays = 7
	}
	return &Service{
		lister:   lister,
		ingestor: ingestor,
		cfg:      cfg,
		stop:     make(chan struct{}),
		sleep:    time.Sleep,
	}
}

// Start begins the background reconciliation loop
func (s *Service) Start() {
	if s.cfg.Interval <= 0 {
		log.Println("Reconciliation loop disabled: no interval configured")
		return
	}

	go func() {
		log.Println("📡 Reconciliation Service started")

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				since := time.Now().UTC().AddDate(0, 0, -s.cfg.SinceDays)
				if _, err := s.Run(context.Background(), since); err != nil {
					log.Printf("❌ Scheduled reconciliation failed: %v", err)
				}
			case <-s.stop:
				log.Println("🛑 Reconciliation Service stopped")
				return
			}
		}
	}()
}

// Stop halts the background loop
func (s *Service) Stop() {
	close(s.stop)
}

// Run walks every upstream order created since the bound and funnels
// each line through the idempotent upsert. Overlapping runs are
// rejected; a failed run keeps whatever it already upserted.
func (s *Service) Run(ctx context.Context, since time.Time) (*Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("a reconciliation run is already in progress")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	summary := &Summary{
		RunID:   uuid.NewString(),
		Since:   since,
		Started: time.Now().UTC(),
	}
	log.Printf("🔄 Reconcile [%s]: orders since %s", summary.RunID, since.Format(time.RFC3339))

	cursor := ""
	for {
		page, err := s.lister.ListOrdersSince(ctx, since, s.cfg.PageSize, cursor)
		if err != nil {
			// Partial progress stays persisted
			summary.Finished = time.Now().UTC()
			return summary, fmt.Errorf("reconcile [%s] aborted after %d orders: %w", summary.RunID, summary.OrdersSeen, err)
		}

		for _, order := range page.Orders {
			summary.OrdersSeen++
			stats := s.ingestor.IngestOrder(ctx, backorder.OrderContext{
				OrderID:         order.Name,
				UpstreamOrderID: order.ID,
				OrderDate:       order.CreatedAt,
			}, order.Lines)
			summary.Upserted += stats.Upserted
			summary.Preorders += stats.Preorders
			summary.Failed += stats.Failed

			// Deliberate pacing between upstream-heavy orders
			if s.cfg.Pacing > 0 {
				s.sleep(s.cfg.Pacing)
			}
		}

		if !page.HasNextPage || len(page.Orders) == 0 {
			break
		}
		cursor = page.EndCursor
	}

	summary.Finished = time.Now().UTC()
	log.Printf("✅ Reconcile [%s]: %d orders, %d upserted, %d preorders skipped, %d failed",
		summary.RunID, summary.OrdersSeen, summary.Upserted, summary.Preorders, summary.Failed)
	return summary, nil
}
