// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine wires the query iteration engine's components together:
// the Fingerprint & Cache Index, the Job Submitter, the Callback Layer,
// the Query Iteration Controller, the Pub/Sub Listener & Fan-out, and the
// HTTP surface that fronts them all. Component boundaries, the
// extension-point Options pattern, and the New/Run/Router lifecycle
// follow the teacher's own orchestrator package; what each component
// does internally follows spec.md's four-layer architecture.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bambooforest/qiengine/pkg/adapters"
	"github.com/bambooforest/qiengine/pkg/ttl"
	"github.com/bambooforest/qiengine/services/engine/cache"
	"github.com/bambooforest/qiengine/services/engine/callbacks"
	"github.com/bambooforest/qiengine/services/engine/controller"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/bambooforest/qiengine/services/engine/handlers"
	"github.com/bambooforest/qiengine/services/engine/middleware"
	"github.com/bambooforest/qiengine/services/engine/observability"
	"github.com/bambooforest/qiengine/services/engine/pubsub"
	"github.com/bambooforest/qiengine/services/engine/querystate"
	"github.com/bambooforest/qiengine/services/engine/queue"
	"github.com/bambooforest/qiengine/services/engine/routes"
	"github.com/bambooforest/qiengine/services/engine/submitter"
	"github.com/bambooforest/qiengine/services/engine/timestats"
	"github.com/redis/go-redis/v9"
)

// Service is the query iteration engine's lifecycle contract: built once
// via New, run to completion via Run, with Router exposed for testing.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error
	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// service implements Service for production use.
type service struct {
	config Config
	opts   adapters.Options
	router *gin.Engine

	backend   cache.Backend
	registry  *pubsub.Registry
	listener  *pubsub.Listener
	sweep     ttl.Scheduler
	listenCtx context.Context
	cancel    context.CancelFunc

	tracerCleanup func(context.Context)
}

// New creates a new query iteration engine Service. opts supplies the
// External-interface adapters (spec.md §4.8) — SQLGenerator, Prefilter,
// DBExecutor — the deployment must provide; a WorkerRuntime is derived
// from cfg.RedisURL if opts.WorkerRuntime is left nil.
func New(cfg Config, opts adapters.Options) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg), opts: opts}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.EngineMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("initialized Prometheus metrics for the query iteration engine")
	}

	backend, workerRuntime, err := s.initBackend()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize cache backend: %w", err)
	}
	s.backend = backend
	if s.opts.WorkerRuntime == nil {
		s.opts.WorkerRuntime = workerRuntime
	}
	if s.opts.SQLGenerator == nil || s.opts.Prefilter == nil || s.opts.DBExecutor == nil || s.opts.AuditLogger == nil {
		defaults := adapters.DefaultOptions()
		if s.opts.SQLGenerator == nil {
			s.opts.SQLGenerator = defaults.SQLGenerator
		}
		if s.opts.Prefilter == nil {
			s.opts.Prefilter = defaults.Prefilter
		}
		if s.opts.DBExecutor == nil {
			s.opts.DBExecutor = defaults.DBExecutor
		}
		if s.opts.AuditLogger == nil {
			s.opts.AuditLogger = defaults.AuditLogger
		}
	}

	s.registry = pubsub.NewRegistry()
	s.listenCtx, s.cancel = context.WithCancel(context.Background())

	states := querystate.New()

	ctrl := s.buildController()
	s.listener = pubsub.New(s.backend, s.config.Channel, s.registry, s.buildContinuation(ctrl, states))

	go func() {
		if err := s.listener.Run(s.listenCtx); err != nil && s.listenCtx.Err() == nil {
			slog.Error("pubsub listener exited", "error", err)
		}
	}()

	s.sweep = ttl.NewScheduler(s.registry.Sweep, ttl.SchedulerConfig{
		Interval: s.config.SweepInterval,
		Name:     "websocket-registry-sweep",
		Clock:    ttl.NewClockChecker(),
	})
	if err := s.sweep.Start(s.listenCtx); err != nil {
		slog.Warn("websocket registry sweep scheduler failed to start", "error", err)
	}

	deps := &handlers.Dependencies{
		Controller:          ctrl,
		Backend:             s.backend,
		Adapters:            s.opts,
		Metrics:             metrics,
		Registry:            s.registry,
		States:              states,
		Validate:            handlers.NewValidator(),
		Channel:             s.config.Channel,
		DefaultMaxKWICLines: s.config.DefaultMaxKWICLines,
		CorpusConfigPath:    s.config.CorpusConfigPath,
		AppConfigTTL:        s.config.AppConfigTTL,
		MessageTTL:          s.config.QueryTTL,
		DefaultQueue:        "query",
	}
	s.initRouter(deps)

	return s, nil
}

// buildController assembles the Job Submitter, Callback Layer and Query
// Iteration Controller (spec.md §4.3-4.6) over the configured cache
// backend and worker runtime.
func (s *service) buildController() *controller.Controller {
	index := cache.New(s.backend, "job:", s.config.QueryTTL).WithClock(ttl.NewClockChecker())
	sub := submitter.New(index, s.opts.WorkerRuntime, s.opts.AuditLogger, submitter.Timeouts{
		Default:    s.config.QueryTimeout,
		FullCorpus: s.config.EntireCorpusCallbackTimeout,
		ResultTTL:  s.config.QueryTTL,
	}, s.config.UseCache)
	cb := callbacks.New(s.backend, s.config.Channel, s.opts.AuditLogger)
	ctrl := controller.New(s.opts.WorkerRuntime, sub, cb, s.opts.AuditLogger)
	ctrl.Stats = timestats.New(s.backend, s.config.QueryTTL)
	return ctrl
}

// buildContinuation implements spec.md §4.7 step 4: on a `partial` query
// message, look the Logical Query up in the in-process query-state table
// and resubmit its next iteration, unless the quota is already satisfied
// or the query has been canceled or handed off to export.
func (s *service) buildContinuation(ctrl *controller.Controller, states *querystate.Store) pubsub.ContinuationFunc {
	return func(ctx context.Context, trigger pubsub.ContinuationTrigger) error {
		entry, ok := states.Get(trigger.JobID)
		if !ok {
			return nil
		}
		lq := entry.LQ
		if lq.Canceled || lq.ToExport != "" {
			return nil
		}

		nextLQ, nextIt := ctrl.FromManual(controller.ManualContinuation{
			FirstJobID:            lq.FirstJobID,
			User:                  lq.User,
			Room:                  lq.Room,
			CorpusIDs:             lq.CorpusIDs,
			AllBatches:            lq.AllBatches,
			DoneBatches:           lq.DoneBatches,
			CurrentBatch:          entry.Iteration.Batch,
			TotalResultsRequested: lq.TotalResultsRequested,
			TotalResultsSoFar:     lq.TotalResultsSoFar,
			TotalRowsProcessed:    lq.TotalRowsProcessed,
			TotalDuration:         lq.TotalDuration,
			WordCount:             entry.WordCount,
			Full:                  lq.Full,
			Sentences:             lq.Sentences,
			PageSize:              lq.PageSize,
			Languages:             entry.Languages,
			ResultMap:             lq.CurrentResultMap,
			ToExport:              lq.ToExport,
		})

		result := ctrl.ChooseBatch(nextLQ, nextIt, false)
		if result.NoMoreData {
			return nil
		}

		generated, err := s.opts.SQLGenerator.Generate(ctx, entry.Query, nextIt.Batch.SchemaName, nextIt.Batch.BatchName, entry.Languages, nil)
		if err != nil {
			return err
		}
		nextIt.SQL = datatypes.SQLTemplate(generated.SQL)
		nextIt.SentSQL = datatypes.SQLTemplate(generated.SentTemplate)
		nextIt.MetaSQL = datatypes.SQLTemplate(generated.MetaTemplate)

		submission, err := ctrl.Submit(ctx, nextLQ, nextIt, controller.SubmissionSpec{Queue: "query"})
		if err != nil {
			return err
		}

		states.Put(nextLQ.FirstJobID, &querystate.Entry{
			LQ:        nextLQ,
			Iteration: nextIt,
			WordCount: entry.WordCount,
			Query:     entry.Query,
			Languages: entry.Languages,
		})
		states.AddJob(nextLQ.FirstJobID, submission.Primary.JobID)
		if submission.Sentence != nil {
			states.AddJob(nextLQ.FirstJobID, submission.Sentence.JobID)
		}
		if submission.Metadata != nil {
			states.AddJob(nextLQ.FirstJobID, submission.Metadata.JobID)
		}
		return nil
	}
}

// initBackend selects the Redis backend when RedisURL is configured,
// falling back to an embedded badger store for local development without
// a Redis instance (spec.md §4.1 names both as legitimate Backend
// implementations). The Redis path also derives a WorkerRuntime from the
// same client, since a durable multi-process job queue needs a shared
// store no embedded badger instance can provide; in badger mode the
// caller must supply opts.WorkerRuntime (e.g. a worker pool reachable
// over its own transport) or jobs will fail to enqueue.
func (s *service) initBackend() (cache.Backend, adapters.WorkerRuntime, error) {
	if s.config.RedisURL != "" {
		addr := strings.TrimPrefix(strings.TrimPrefix(s.config.RedisURL, "redis://"), "rediss://")
		backend := cache.NewRedisBackend(addr, s.config.RedisDBIndex)
		client := redis.NewClient(&redis.Options{Addr: addr, DB: s.config.RedisDBIndex})
		runtime := queue.New(client, s.config.QueryTTL)
		slog.Info("using Redis cache backend", "addr", addr, "db", s.config.RedisDBIndex)
		return backend, runtime, nil
	}

	backend, err := cache.NewBadgerBackend(s.config.BadgerDir)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using embedded badger cache backend", "dir", s.config.BadgerDir)
	return backend, adapters.DefaultOptions().WorkerRuntime, nil
}

// initTracer initializes OpenTelemetry distributed tracing.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("qiengine")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(deps *handlers.Dependencies) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("qiengine"))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.AccessLog(slog.Default()))

	routes.SetupRoutes(s.router, deps)
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("starting query iteration engine", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.sweep != nil {
		if err := s.sweep.Stop(); err != nil {
			slog.Warn("registry sweep scheduler stop error", "error", err)
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			slog.Warn("cache backend close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

var _ Service = (*service)(nil)
