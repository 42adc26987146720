package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lopbooks/backorderd/internal/backorder"
	"github.com/lopbooks/backorderd/internal/config"
	"github.com/lopbooks/backorderd/internal/database"
	"github.com/lopbooks/backorderd/internal/handlers"
	"github.com/lopbooks/backorderd/internal/models"
	"github.com/lopbooks/backorderd/internal/services/reconcile"
	"github.com/lopbooks/backorderd/internal/services/shopify"
	"github.com/lopbooks/backorderd/internal/utils"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (detects embedded vs external automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// 3. Synchronize schema
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.BackorderLine{},
		&models.StaffUser{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Bootstrap a staff user on first run if configured
	bootstrapAdmin(db)

	// 5. Wire the engine
	client := shopify.NewClient(cfg.Shopify.ShopURL, cfg.Shopify.AccessToken, cfg.Shopify.APIVersion)
	store := backorder.NewStore(db.DB)
	builder := backorder.NewSnapshotBuilder(client, backorder.NewClassifier())
	ingestor := backorder.NewIngestor(builder, store)

	reconciler := reconcile.NewService(client, ingestor, reconcile.Config{
		Interval:  cfg.Reconcile.Interval,
		SinceDays: cfg.Reconcile.SinceDays,
		PageSize:  cfg.Reconcile.PageSize,
		Pacing:    cfg.Reconcile.Pacing,
	})
	reconciler.Start()

	router := handlers.NewRouter(db.DB, handlers.Deps{
		JWTSecret:     cfg.JWTSecret,
		WebhookSecret: cfg.Shopify.WebhookSecret,
		Fetcher:       client,
		Ingestor:      ingestor,
		Store:         store,
		Workflow:      backorder.NewWorkflow(db.DB),
		Views:         backorder.NewViewBuilder(store),
		Reconciler:    reconciler,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("🌍 Backorder engine listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")
	reconciler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Server shutdown: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("⚠️ Database shutdown: %v", err)
	}
	log.Println("👋 Bye")
}

// bootstrapAdmin creates the first staff user from ADMIN_EMAIL and
// ADMIN_PASSWORD when the table is empty, so a fresh install is usable
// without SQL access.
func bootstrapAdmin(db *database.DB) {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}

	var count int64
	if err := db.Model(&models.StaffUser{}).Count(&count).Error; err != nil || count > 0 {
		return
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		log.Printf("⚠️ Could not hash bootstrap password: %v", err)
		return
	}
	user := models.StaffUser{Email: email, Password: hash, Role: "admin"}
	if err := db.Create(&user).Error; err != nil {
		log.Printf("⚠️ Could not create bootstrap user: %v", err)
		return
	}
	log.Printf("✅ Bootstrap staff user %s created", email)
}
