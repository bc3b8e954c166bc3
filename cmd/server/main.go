package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aoki/jgrants-sync/internal/api"
	"github.com/aoki/jgrants-sync/internal/config"
	"github.com/aoki/jgrants-sync/internal/enrich"
	"github.com/aoki/jgrants-sync/internal/jgrants"
	"github.com/aoki/jgrants-sync/internal/sched"
	"github.com/aoki/jgrants-sync/internal/store"
	syncengine "github.com/aoki/jgrants-sync/internal/sync"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	st := store.NewStore(pool)
	source := jgrants.NewClient(cfg.Source.BaseURL,
		time.Duration(cfg.Source.TimeoutSeconds)*time.Second, cfg.Source.RateLimitRPS)

	var enricher *enrich.Enricher
	if cfg.AI.Enabled {
		backend := enrich.NewOpenAIClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model,
			time.Duration(cfg.AI.TimeoutSeconds)*time.Second)
		enricher = enrich.NewEnricher(backend, st, enrich.Options{
			Steps: enrich.Steps{
				Title:    cfg.AI.Steps.Title,
				Excerpt:  cfg.AI.Steps.Excerpt,
				Body:     cfg.AI.Steps.Body,
				Category: cfg.AI.Steps.Category,
				Region:   cfg.AI.Steps.Region,
			},
			Prompts: enrich.Prompts{
				Title:    cfg.AI.Prompts.Title,
				Excerpt:  cfg.AI.Prompts.Excerpt,
				Body:     cfg.AI.Prompts.Body,
				Category: cfg.AI.Prompts.Category,
				Region:   cfg.AI.Prompts.Region,
			},
			RegenerateAfter: time.Duration(cfg.AI.RegenerateAfterHours) * time.Hour,
			Limiter: enrich.NewSlidingWindowLimiter(cfg.AI.RateLimit.MaxRequests,
				time.Duration(cfg.AI.RateLimit.WindowMinutes)*time.Minute),
		})
	} else {
		log.Printf("AI enrichment disabled")
	}

	var engineEnricher syncengine.Enricher
	if enricher != nil {
		engineEnricher = enricher
	}
	engine := syncengine.NewEngine(source, st, engineEnricher)

	scheduler := sched.New()
	defer scheduler.Stop()

	if cfg.Sync.AutoSyncEnabled {
		interval := time.Duration(cfg.Sync.IntervalHours) * time.Hour
		scheduler.RegisterInterval("auto-sync", interval, func(ctx context.Context) error {
			params, err := syncengine.ResolveParams(cfg.Sync, syncengine.Overrides{})
			if err != nil {
				return err
			}
			_, err = engine.RunSync(ctx, params)
			return err
		})
	}
	scheduler.RegisterInterval("deadline-check", 24*time.Hour, func(ctx context.Context) error {
		_, err := engine.DeadlineSweep(ctx)
		return err
	})
	scheduler.RegisterInterval("cleanup", 7*24*time.Hour, func(ctx context.Context) error {
		_, err := engine.RetentionSweep(ctx, cfg.Sync.CleanupDays)
		return err
	})

	srv := api.NewServer(cfg, st, engine, enricher, source)
	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := srv.Start(cfg.Server.Port); err != nil {
		log.Fatal(err)
	}
}
