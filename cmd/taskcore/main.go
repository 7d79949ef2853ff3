// Command taskcore runs the worker pools, the index-sync pipeline and the
// operator HTTP API in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/analysis"
	"github.com/hirelane/taskcore/api"
	audithook "github.com/hirelane/taskcore/audit_hook"
	"github.com/hirelane/taskcore/config"
	"github.com/hirelane/taskcore/engine"
	"github.com/hirelane/taskcore/index"
	"github.com/hirelane/taskcore/index/hashembed"
	indexmem "github.com/hirelane/taskcore/index/memory"
	"github.com/hirelane/taskcore/intercept"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/logging"
	"github.com/hirelane/taskcore/mail"
	"github.com/hirelane/taskcore/primary"
	"github.com/hirelane/taskcore/primary/bunstore"
	primarymem "github.com/hirelane/taskcore/primary/memory"
	"github.com/hirelane/taskcore/queue"
	"github.com/hirelane/taskcore/ratelimit"
	"github.com/hirelane/taskcore/store"
	"github.com/hirelane/taskcore/syncer"
	"github.com/hirelane/taskcore/testgen"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("TASKCORE_CONFIG"), "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	objectsDir := flag.String("objects", "var/assessments", "directory for generated assessments")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := store.Open(ctx, cfg.Broker.Driver, cfg.Broker.DSN, logger)
	if err != nil {
		return fmt.Errorf("open broker: %w", err)
	}
	if err := broker.Migrate(ctx); err != nil {
		_ = broker.Close()
		return fmt.Errorf("migrate broker: %w", err)
	}

	rt, err := taskcore.New(
		taskcore.WithStore(broker),
		taskcore.WithLogger(logger),
		taskcore.WithConfig(cfg.Runtime),
	)
	if err != nil {
		_ = broker.Close()
		return err
	}
	// From here on rt.Stop releases everything registered with OnClose.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout)
		defer cancel()
		if err := rt.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	}()

	limiters := queue.MemoryLimiters
	var marks syncer.Watermarks = syncer.NewMemoryWatermarks()
	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		rt.OnClose(client.Close)
		limiters = func(l ratelimit.Limit) ratelimit.Limiter {
			return ratelimit.NewRedis(client, cfg.Redis.Prefix, l)
		}
		marks = syncer.NewRedisWatermarks(client, cfg.Redis.Prefix)
	}

	records, err := openPrimary(ctx, cfg.Primary, logger)
	if err != nil {
		return err
	}
	rt.OnClose(records.Close)

	eng, err := engine.Build(rt,
		engine.WithPolicies(cfg.Queues...),
		engine.WithLimiterFactory(limiters),
		engine.WithExtension(analysis.NewFailureHook(queue.Analysis, records, logger)),
		engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger),
			audithook.WithActions(
				audithook.ActionJobFailed,
				audithook.ActionJobStalled,
				audithook.ActionSyncDropped,
				audithook.ActionReconcileFinished,
			),
			audithook.WithLogger(logger),
		)),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// Index sync: writes through the interceptor reach the index-sync queue
	// after commit.
	embedder := index.NewThrottle(hashembed.New(hashembed.DefaultDimension), 50, 10)
	idx := indexmem.New(embedder.Dimension())
	dispatcher := syncer.NewDispatcher(eng)
	sup := intercept.NewSupervisor(dispatcher,
		intercept.WithBuffer(cfg.Runtime.SyncBuffer),
		intercept.WithWorkers(cfg.Runtime.SyncWorkers),
		intercept.WithExtensions(eng.Extensions()),
		intercept.WithSupervisorLogger(logger),
	)
	watched := intercept.New(records, sup,
		intercept.WithEnabled(cfg.Runtime.SyncEnabled),
		intercept.WithLogger(logger),
	)

	if err := registerHandlers(eng, cfg, watched, records, idx, embedder, marks, *objectsDir, logger); err != nil {
		return err
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}
	rt.OnClose(func() error { return stopWithin(cfg.Runtime.ShutdownTimeout, sup.Stop) })

	reconciler := syncer.NewReconciler(records, idx, marks, dispatcher,
		syncer.WithExtensions(eng.Extensions()),
		syncer.WithLogger(logger),
	)
	if cfg.Runtime.ReconcileSchedule != "" {
		sched, err := syncer.NewSchedule(reconciler, cfg.Runtime.ReconcileSchedule, 10*time.Minute, logger)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		rt.OnClose(func() error { return stopWithin(cfg.Runtime.ShutdownTimeout, sched.Stop) })
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(eng, api.WithReconciler(reconciler), api.WithSupervisor(sup), api.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info("taskcore started",
		slog.String("http", cfg.HTTP.Addr),
		slog.String("broker", cfg.Broker.Driver),
		slog.String("primary", cfg.Primary.Driver),
		slog.Bool("sync_enabled", cfg.Runtime.SyncEnabled),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		logger.Error("http server failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openPrimary(ctx context.Context, c config.Store, logger *slog.Logger) (primary.Store, error) {
	var s primary.Store
	switch c.Driver {
	case config.PrimaryPostgres:
		s = bunstore.Open(c.DSN, bunstore.WithLogger(logger))
	default:
		s = primarymem.New()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate primary store: %w", err)
	}
	return s, nil
}

func registerHandlers(
	eng *engine.Engine,
	cfg config.Config,
	watched *intercept.Interceptor,
	records primary.Store,
	idx index.Index,
	embedder index.Embedder,
	marks syncer.Watermarks,
	objectsDir string,
	logger *slog.Logger,
) error {
	scorer := analysis.NewThrottleScorer(analysis.NewSimilarityScorer(embedder), 20, 5)
	analyses := analysis.NewHandler(watched, records, scorer,
		analysis.WithBatchSize(cfg.Runtime.BatchSize),
		analysis.WithLogger(logger),
	)
	sender, err := mail.NewSender(mail.NewLogMailer(logger), cfg.Mail.From, logger)
	if err != nil {
		return err
	}
	assessments := testgen.NewHandler(records, testgen.RequirementsGenerator{}, testgen.NewDirObjects(objectsDir), logger)
	syncs := syncer.NewHandler(records, idx, embedder, marks, logger)

	handlers := map[string]job.HandlerFunc{
		queue.Analysis:       analyses.HandlerFunc(),
		queue.Email:          sender.MessageHandler(),
		queue.OfferEmail:     sender.OfferHandler(),
		queue.TestGeneration: assessments.HandlerFunc(),
		queue.IndexSync:      syncs.HandlerFunc(),
	}
	for _, name := range queue.Names {
		if err := eng.Register(name, handlers[name]); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

func stopWithin(d time.Duration, stop func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return stop(ctx)
}
