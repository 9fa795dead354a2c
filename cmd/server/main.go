package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"adherence/internal/api"
	"adherence/internal/archive"
	"adherence/internal/auth"
	"adherence/internal/config"
	"adherence/internal/db"
	"adherence/internal/notify"
	"adherence/internal/service"
	"adherence/internal/store"
	"adherence/internal/sweep"
	"adherence/internal/verify"
	"adherence/internal/version"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Printf("starting adherence server version=%s addr=%s driver=%s", version.Version, cfg.ListenAddr, cfg.DBDriver)

	sqdb, err := db.Open(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer sqdb.Close()
	if err := db.ApplyMigrationFile(sqdb, "migrations/001_init.sql"); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	st := store.New(sqdb)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.BootstrapManagerName != "" && cfg.BootstrapManagerToken != "" {
		hash, err := auth.HashToken(cfg.BootstrapManagerToken)
		if err != nil {
			log.Fatalf("bootstrap manager: %v", err)
		}
		if err := st.EnsureManager(ctx, cfg.BootstrapManagerName, hash); err != nil {
			log.Fatalf("bootstrap manager: %v", err)
		}
		log.Printf("bootstrap manager ensured name=%s", cfg.BootstrapManagerName)
	}

	notifier, err := notify.New(cfg)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}
	verifier, err := verify.New(cfg)
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}
	sink, err := archive.NewSink(cfg)
	if err != nil {
		log.Fatalf("archive sink: %v", err)
	}

	svc := service.New(cfg, st, notifier, verifier)

	var wg sync.WaitGroup
	sw := sweep.New(cfg, st, notifier, sink)
	sweep.NewScheduler(cfg.SweepInterval, sw.Tasks()...).Start(ctx, &wg)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(cfg, svc),
		ReadTimeout:  time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	log.Printf("listening addr=%s sweep_interval=%s", cfg.ListenAddr, cfg.SweepInterval)

	<-ctx.Done()
	log.Print("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	wg.Wait()
	log.Print("bye")
}
