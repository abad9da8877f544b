package main

import (
	"SynthLedger/internal/config"
	"SynthLedger/internal/core"
	"SynthLedger/internal/ingestion"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/projection"
	"SynthLedger/internal/query"
	"SynthLedger/internal/server"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := observability.NewLogger("main")
	logger.Info().Msg("SynthLedger starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	sysCfg, err := cfg.Deployment.SystemConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("deployment")
	}

	// serveCtx stops the inputs; coreCtx stops the sequencer after them.
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(serveCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(serveCtx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	snapMgr := persistence.NewSnapshotManager(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.RegisterCheck("postgres", db.PingContext)

	// --- Channels ---
	// The persist channel blocks (backpressure); projection and publish drop.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	// --- Deterministic core ---
	sys, err := core.NewSystem(sysCfg, observability.NewLogger("engine"))
	if err != nil {
		logger.Fatal().Err(err).Msg("build system")
	}

	snap, err := snapMgr.LoadLatestSnapshot(serveCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("load snapshot, falling back to full replay")
		snap = nil
	}
	startSequence := int64(1)
	if snap != nil {
		startSequence = snap.Sequence + 1
	}

	deterministicCore, err := core.NewDeterministicCore(
		sys,
		startSequence,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		cfg.IdempotencyLRUCapacity,
		metrics,
		core.WithCustodyCheck(cfg.CustodyCheck),
		core.WithCoreLogger(observability.NewLogger("core")),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("build core")
	}

	// --- Recovery: snapshot + replay ---
	if snap != nil {
		if err := restoreSnapshot(deterministicCore, snap); err != nil {
			logger.Fatal().Err(err).Msg("restore snapshot")
		}
	} else {
		logger.Info().Msg("no verified snapshot, replaying the full log")
	}

	replayed, err := replayFromLog(serveCtx, snapMgr, deterministicCore, startSequence, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("event replay")
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", deterministicCore.GetSequence()).
		Msg("recovery complete")

	warmLimit := cfg.IdempotencyLRUCapacity
	if warmLimit > 100_000 {
		warmLimit = 100_000
	}
	if n, err := warmIdempotency(serveCtx, dbChecker, deterministicCore, warmLimit); err != nil {
		logger.Warn().Err(err).Msg("warm idempotency cache")
	} else if n > 0 {
		logger.Info().Int("keys", n).Msg("idempotency cache warmed")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	healthChecker.RegisterCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})

	ingestLogger := observability.NewLogger("ingestion")
	if err := ingestion.EnsureStreams(serveCtx, js, ingestLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}

	rawChan := make(chan ingestion.RawCommand, cfg.IngestChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawChan, ingestLogger)
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))

	// --- Services ---
	queryService := query.NewQueryService(db, metrics)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Core:          deterministicCore,
		Ingest:        ingestion.NewGRPCIngestService(deterministicCore),
		QueryService:  queryService,
		DB:            db,
		SnapshotMgr:   snapMgr,
		HealthChecker: healthChecker,
		Logger:        observability.NewLogger("server"),
		SubmitRate:    cfg.SubmitRate,
		SubmitBurst:   cfg.SubmitBurst,
	})

	errChan := make(chan error, 10)

	// --- Pipeline: core → bridge → workers ---
	// Workers run until their input closes so shutdown can drain them.
	var pipeline sync.WaitGroup

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan,
		cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics, observability.NewLogger("projection"))
	br := &bridge{
		persistOut:    persistWorkerChan,
		projectionOut: projectionWorkerChan,
		publishOut:    publishChan,
		metrics:       metrics,
		logger:        observability.NewLogger("bridge"),
	}

	pipeline.Add(4)
	go func() {
		defer pipeline.Done()
		if err := persistWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()
	go func() {
		defer pipeline.Done()
		if err := projWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()
	go func() {
		defer pipeline.Done()
		_ = outboundPublisher.Run(context.Background())
	}()
	go func() {
		defer pipeline.Done()
		br.run(persistCoreChan, projectionCoreChan)
	}()

	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		if err := deterministicCore.Run(coreCtx); err != nil && coreCtx.Err() == nil {
			errChan <- fmt.Errorf("core: %w", err)
		}
	}()

	// --- Inputs ---
	if err := natsSubscriber.Subscribe(serveCtx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}
	go ingestion.RunIngestionLoop(serveCtx, rawChan, deterministicCore, ingestLogger)

	go func() {
		errChan <- grpcServer.StartGRPC(serveCtx)
	}()
	go func() {
		errChan <- grpcServer.StartHTTPGateway(serveCtx)
	}()

	snaps := &snapshotter{
		core:     deterministicCore,
		snapMgr:  snapMgr,
		interval: cfg.SnapshotInterval,
		metrics:  metrics,
		logger:   observability.NewLogger("snapshot"),
		lastSeq:  startSequence - 1,
	}
	go snaps.run(serveCtx, 10*time.Second)

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-serveCtx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("next_sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Int("assets", len(sysCfg.Assets)).
		Msg("SynthLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop inputs, stop the core, drain the pipeline, then snapshot.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	stopServing()
	natsSubscriber.Stop()

	stopCore()
	<-coreDone

	close(persistCoreChan)
	close(projectionCoreChan)

	drained := make(chan struct{})
	go func() {
		pipeline.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Info().Msg("pipeline drained")
	case <-time.After(shutdownTimeout):
		logger.Error().Msg("pipeline drain timed out")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Run has returned, so the core can be read directly.
	final := deterministicCore.CreateSnapshot()
	if err := snaps.save(shutdownCtx, final); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else if _, err := snapMgr.VerifySnapshots(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("verify final snapshot")
	} else {
		logger.Info().Int64("sequence", final.Sequence).Msg("final snapshot saved")
	}

	logger.Info().Msg("SynthLedger shutdown complete")
}
