package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warungpos/terminal/internal/checkout"
	"warungpos/terminal/internal/config"
	"warungpos/terminal/internal/connectivity"
	"warungpos/terminal/internal/currency"
	"warungpos/terminal/internal/httpapi"
	"warungpos/terminal/internal/ledger"
	"warungpos/terminal/internal/metrics"
	"warungpos/terminal/internal/promo"
	"warungpos/terminal/internal/queue"
	"warungpos/terminal/internal/queue/memory"
	pgqueue "warungpos/terminal/internal/queue/postgres"
	"warungpos/terminal/internal/queue/sqlite"
	"warungpos/terminal/internal/syncer"
)

func main() {
	cfg := config.Load()
	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		log.Fatalf("invalid terminal profile: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var store queue.Store
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgqueue.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with a volatile queue", err)
		}
		store = pg
		log.Println("queue: postgres")
	case cfg.QueuePath != "":
		sq, err := sqlite.New(ctx, cfg.QueuePath)
		if err != nil {
			log.Fatalf("cannot open sale queue at %s: %v", cfg.QueuePath, err)
		}
		store = sq
		log.Printf("queue: sqlite (%s)", cfg.QueuePath)
	default:
		store = memory.New()
		log.Println("queue: in-memory (queued sales will not survive a restart)")
	}
	closers = append(closers, store.Close)

	ratesCache := currency.Cache(currency.NoopCache{})
	if cfg.RedisAddr != "" {
		redisCache := currency.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop rate cache", err)
		} else {
			ratesCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("rate cache: redis")
		}
	} else {
		log.Println("rate cache: noop")
	}

	ledgerClient := ledger.New(cfg.LedgerBaseURL, cfg.LedgerTimeout())
	rates := currency.NewProvider(ledgerClient, ratesCache, profile.BaseCurrency, cfg.RatesTTL())

	m := metrics.New(nil)

	// The terminal assumes it is offline until the first probe says
	// otherwise; a wrong pessimistic start just queues the first sale.
	monitor := connectivity.NewMonitor(false)
	prober := connectivity.NewProber(monitor, ledgerClient, cfg.ProbeInterval())

	syncs := syncer.New(store, ledgerClient, monitor, m, syncer.Backoff{
		Base:   cfg.BackoffBase(),
		Factor: 2,
		Cap:    cfg.BackoffCap(),
	}, cfg.KeepSynced())

	orch, err := checkout.New(checkout.Config{
		BranchID:     profile.BranchID,
		BaseCurrency: profile.BaseCurrency,
		Currency:     profile.Currency,
		TaxRate:      profile.TaxRateDecimal(),
		TerminalNode: cfg.TerminalNode,
	}, checkout.Deps{
		Rates:   rates,
		Promos:  promo.NewResolver(profile.Rules()),
		Queue:   store,
		Ledger:  ledgerClient,
		Watcher: monitor,
		Syncs:   syncs,
		Metrics: m,
	})
	if err != nil {
		log.Fatalf("checkout setup: %v", err)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go prober.Run(runCtx)
	go syncs.Run(runCtx)

	api := httpapi.New(orch, store, syncs, monitor, m)

	// WriteTimeout stays 0: the sync event stream holds its response open
	// for the life of the client.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS terminal listening on %s (branch %s)", cfg.Address(), profile.BranchID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopRun()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("terminal stopped")
}
