package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mlsync/config"
	"mlsync/engine"
	"mlsync/httputil"
	"mlsync/logging"
	"mlsync/models"
	"mlsync/scheduler"
	"mlsync/services"
	"mlsync/storage"
	"mlsync/workers"
)

var (
	syncNow      = flag.Bool("sync", false, "Sync all enabled providers once and exit")
	syncProvider = flag.String("provider", "", "Limit -sync to one provider")
	fullSync     = flag.Bool("full", false, "Force a full sync instead of incremental")
	seedDir      = flag.String("seed", "", "Load provider configs from a YAML directory and exit")
	showStatus   = flag.Bool("status", false, "Print provider status as JSON and exit")
	checkHealth  = flag.String("health", "", "Probe a provider's connectivity and exit")
	cancelRun    = flag.String("cancel", "", "Request cancellation of a provider's active run and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("mlsync.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting mlsync...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	commands, err := storage.NewCommandStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open command store: %v", err)
	}
	defer commands.Close()

	clients := httputil.NewClients()

	propertyService := services.NewPropertyService(store)
	mediaService := services.NewMediaService(store)

	orchestrator := engine.NewOrchestrator(store, propertyService, mediaService, clients, cfg.Scheduler.StaleRunAge)
	adminService := services.NewAdminService(store, commands, mediaService, orchestrator)

	if *seedDir != "" {
		seedProviders(ctx, cfg, store, *seedDir)
		return
	}

	if *showStatus {
		printStatus(ctx, adminService)
		return
	}

	if *checkHealth != "" {
		health, err := adminService.Health(ctx, *checkHealth)
		if err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		out, _ := json.MarshalIndent(health, "", "  ")
		os.Stdout.Write(append(out, '\n'))
		if !health.OK {
			os.Exit(1)
		}
		return
	}

	if *cancelRun != "" {
		cancelled, err := adminService.CancelSync(ctx, *cancelRun)
		if err != nil {
			log.Fatalf("Cancel failed: %v", err)
		}
		if !cancelled {
			log.Printf("No active run for %s", *cancelRun)
			return
		}
		log.Printf("Cancellation requested for %s", *cancelRun)
		return
	}

	var uploader workers.Uploader
	if cfg.S3.Bucket != "" {
		s3up, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatalf("Failed to set up S3 uploader: %v", err)
		}
		uploader = s3up
	} else {
		log.Println("No S3 bucket configured, media variants will point at source URLs")
	}

	mediaWorker := workers.NewMediaWorker(mediaService, uploader, clients.Media, store, cfg.Media)

	if *syncNow {
		runOnce(ctx, store, orchestrator, mediaWorker, *syncProvider, *fullSync)
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg, orchestrator, store, commands)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go mediaWorker.Run(ctx)
	log.Println("Media worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

func seedProviders(ctx context.Context, cfg *config.Config, store *storage.PostgresStore, dir string) {
	providers, err := config.LoadProviderSeeds(dir)
	if err != nil {
		log.Fatalf("Failed to load provider seeds: %v", err)
	}
	for _, p := range providers {
		if err := store.UpsertProviderConfig(ctx, p); err != nil {
			log.Fatalf("Failed to seed provider %s: %v", p.ID, err)
		}
		log.Printf("Seeded provider %s (%s)", p.ID, p.Protocol)
	}
	log.Printf("Seeded %d providers", len(providers))
}

func printStatus(ctx context.Context, admin *services.AdminService) {
	status, err := admin.Status(ctx)
	if err != nil {
		log.Fatalf("Failed to read status: %v", err)
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode status: %v", err)
	}
	os.Stdout.Write(append(out, '\n'))
}

func runOnce(ctx context.Context, store *storage.PostgresStore, orchestrator *engine.Orchestrator, mediaWorker *workers.MediaWorker, providerID string, full bool) {
	syncType := ""
	if full {
		syncType = models.SyncTypeFull
	}

	configs, err := store.ListProviderConfigs(ctx, true)
	if err != nil {
		log.Fatalf("Failed to list providers: %v", err)
	}

	for _, cfg := range configs {
		if providerID != "" && cfg.ID != providerID {
			continue
		}
		if _, err := orchestrator.SyncProvider(ctx, cfg, syncType); err != nil {
			log.Printf("Sync %s failed: %v", cfg.ID, err)
		}
	}

	// Drain whatever the sync queued before exiting.
	mediaWorker.ProcessBatch(ctx)
	log.Println("Sync complete")
}
