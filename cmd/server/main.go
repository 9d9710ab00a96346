package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"warden/internal/alerts"
	"warden/internal/attempts"
	"warden/internal/audit"
	"warden/internal/chat"
	"warden/internal/dedupe"
	"warden/internal/export"
	"warden/internal/invites"
	"warden/internal/ipban"
	"warden/internal/moderation"
	"warden/internal/pipeline"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/logger"
	"warden/internal/platform/metrics"
	platformredis "warden/internal/platform/redis"
	"warden/internal/settings"
	"warden/internal/store"
	httptransport "warden/internal/transport/http"
	"warden/internal/worker"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	fileStore := store.NewFileStore(filepath.Join(cfg.DataDir, "state.json"), log)
	mgr, err := store.NewManager(ctx, fileStore, log, store.WithSaveHook(m.StateSaves.Inc))
	if err != nil {
		return err
	}

	index := dedupe.New()
	mgr.View(index.Rebuild)

	configStore, err := settings.NewConfigStore(filepath.Join(cfg.DataDir, "settings.json"), log)
	if err != nil {
		return err
	}

	publisher := audit.NewPublisher(1024, log)
	auditStore, closeAudit, err := buildAuditStore(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	defer closeAudit()
	sink, closeSink, err := buildAuditSink(cfg.Audit)
	if err != nil {
		return err
	}
	defer closeSink()
	auditWorker := audit.NewWorker(auditStore, publisher.Inbox(), sink, log)

	client := chat.NewHTTPClient(cfg.Chat.BaseURL, cfg.Chat.Token)

	tracker := attempts.NewTracker(mgr, configStore, publisher, log)
	actuator := moderation.NewActuator(client, configStore, log)
	dispatcher := alerts.NewDispatcher(client, configStore, log, alerts.WithAlertHook(m.RecordAlert))

	registryOpts := []ipban.Option{}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		registryOpts = append(registryOpts, ipban.WithCache(ipban.NewRedisCache(redisClient.Client, 0)))
	}
	registry := ipban.NewRegistry(mgr, publisher, log, registryOpts...)
	registry.Warm(ctx)

	attributor := invites.NewAttributor(mgr, publisher, log)
	exporter := export.NewExporter(mgr, configStore, cfg.OwnerID, publisher, log)

	p := pipeline.New(mgr, index, tracker, actuator, dispatcher, client, configStore, publisher, log,
		pipeline.WithOutcomeHook(m.RecordOutcome))
	join := pipeline.NewJoinHandler(mgr, attributor, registry, actuator, dispatcher, client, configStore, publisher, log)

	queue := worker.NewQueue(cfg.QueueSize, log,
		worker.WithDepthHook(func(depth int) { m.QueueDepth.Set(float64(depth)) }))

	handler := httptransport.NewHandler(queue, p, join, exporter, log)
	admin := httptransport.NewAdminHandler(queue, p, registry, configStore, mgr, publisher, log)
	verifier := httptransport.NewTokenVerifier(cfg.JWTSigningKey)
	router := httptransport.NewRouter(handler, admin, verifier, log)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return auditWorker.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if _, err := tracker.Sweep(gctx); err != nil {
					log.Error("retention sweep failed", "error", err)
				}
			}
		}
	})
	g.Go(func() error {
		log.Info("starting warden", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildAuditStore(ctx context.Context, cfg config.AuditConfig) (audit.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return audit.NewMemoryStore(), func() {}, nil
	}
	db, err := audit.OpenPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	pg := audit.NewPostgresStore(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}

func buildAuditSink(cfg config.AuditConfig) (audit.Sink, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, func() {}, nil
	}
	sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}
