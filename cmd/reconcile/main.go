package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/lopbooks/backorderd/internal/backorder"
	"github.com/lopbooks/backorderd/internal/config"
	"github.com/lopbooks/backorderd/internal/database"
	"github.com/lopbooks/backorderd/internal/models"
	"github.com/lopbooks/backorderd/internal/services/reconcile"
	"github.com/lopbooks/backorderd/internal/services/shopify"
)

// One-shot batch reconciliation. Walks upstream orders created since the
// given bound through the same snapshot-and-upsert flow the API server
// uses, then prints a run summary and exits.
func main() {
	sinceDays := flag.Int("since", 0, "look back this many days (default from RECONCILE_SINCE_DAYS)")
	pageSize := flag.Int("page-size", 0, "orders per upstream page (default from RECONCILE_PAGE_SIZE)")
	dryRun := flag.Bool("dry-run", false, "walk and classify orders without writing to the database")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *sinceDays > 0 {
		cfg.Reconcile.SinceDays = *sinceDays
	}
	if *pageSize > 0 {
		cfg.Reconcile.PageSize = *pageSize
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(&models.BackorderLine{}, &models.StaffUser{}); err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	}

	gdb := db.DB
	if *dryRun {
		log.Println("🧪 Dry run: statements are prepared but not executed")
		gdb = gdb.Session(&gorm.Session{DryRun: true})
	}

	client := shopify.NewClient(cfg.Shopify.ShopURL, cfg.Shopify.AccessToken, cfg.Shopify.APIVersion)
	ingestor := backorder.NewIngestor(
		backorder.NewSnapshotBuilder(client, backorder.NewClassifier()),
		backorder.NewStore(gdb),
	)
	svc := reconcile.NewService(client, ingestor, reconcile.Config{
		SinceDays: cfg.Reconcile.SinceDays,
		PageSize:  cfg.Reconcile.PageSize,
		Pacing:    cfg.Reconcile.Pacing,
	})

	since := time.Now().UTC().AddDate(0, 0, -cfg.Reconcile.SinceDays)
	summary, err := svc.Run(context.Background(), since)
	if summary != nil {
		out, _ := json.MarshalIndent(summary, "", "  ")
		os.Stdout.Write(append(out, '\n'))
	}
	if err != nil {
		log.Fatalf("Reconciliation failed: %v", err)
	}
}
