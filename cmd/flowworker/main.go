package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/backend/memory"
	"github.com/corda/corda-runtime-os-sub030/backend/monoprocess"
	"github.com/corda/corda-runtime-os-sub030/backend/mysql"
	"github.com/corda/corda-runtime-os-sub030/backend/postgres"
	rb "github.com/corda/corda-runtime-os-sub030/backend/redis"
	"github.com/corda/corda-runtime-os-sub030/backend/sqlite"
	"github.com/corda/corda-runtime-os-sub030/client"
	"github.com/corda/corda-runtime-os-sub030/config"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/diag"
	mp "github.com/corda/corda-runtime-os-sub030/metrics/prometheus"
	"github.com/corda/corda-runtime-os-sub030/processor"
	"github.com/corda/corda-runtime-os-sub030/vnode"
	"github.com/corda/corda-runtime-os-sub030/worker"
)

var (
	configPath  = flag.String("config", "", "path to a YAML configuration file")
	backendType = flag.String("backend", "memory", "store to use: memory, sqlite, mysql, postgres, redis")
	dsn         = flag.String("dsn", "", "data source name, file path, or redis address of the store")
	httpAddr    = flag.String("http-addr", ":9090", "address to serve /metrics and the diagnostics /api on, empty to disable")
	traceMode   = flag.String("trace", "none", "trace exporter: stdout, otlp, none")
	otlpAddr    = flag.String("otlp-endpoint", "localhost:4318", "endpoint of the OTLP HTTP trace collector")
	partitions  = flag.Int("partitions", 4, "number of worker partitions")
	runPing     = flag.String("ping", "", "start a ping flow with the given message and print its result")
	debug       = flag.Bool("debug", false, "enable debug logging")
)

var (
	alice = core.HoldingIdentity{X500Name: "O=Alice, L=London, C=GB", GroupID: "sample"}
	bob   = core.HoldingIdentity{X500Name: "O=Bob, L=Paris, C=FR", GroupID: "sample"}
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger); err != nil {
		logger.Error("flow worker failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.DefaultConfig
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	tp, err := tracerProvider(ctx)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	otel.SetTracerProvider(tp)
	if s, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		defer s.Shutdown(context.Background())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	bopts := []backend.BackendOption{
		backend.WithLogger(logger),
		backend.WithMetrics(mp.NewClient(registry)),
		backend.WithTracerProvider(tp),
	}

	store, err := openStore(ctx, bopts)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", *backendType, err)
	}
	defer store.Close()

	store = monoprocess.NewMonoprocessStore(store, 16, time.Second)

	vnodes := vnode.NewMemoryRegistry()
	vnodes.Put(vnode.Info{Identity: alice, FlowOperationalStatus: vnode.OperationalStatus_Active})
	vnodes.Put(vnode.Info{Identity: bob, FlowOperationalStatus: vnode.OperationalStatus_Active})

	var c *client.Client
	w := worker.New(store, vnodes, &worker.Options{
		Partitions:           *partitions,
		RouteSessionsLocally: true,
		Publisher: worker.PublisherFunc(func(ctx context.Context, r *core.Record) error {
			return c.Publish(ctx, r)
		}),
		DeadLetterSink: worker.DeadLetterSinkFunc(func(_ context.Context, r *core.Record) error {
			logger.Warn("event dead lettered", "topic", r.Topic, "key", r.Key)
			return nil
		}),
	}, processor.WithConfig(cfg))
	c = client.New(w, store, worker.NewLogPublisher(logger), cfg.CleanupWindow)

	if err := w.RegisterFlow("ping", pingFlow); err != nil {
		return err
	}
	if err := w.RegisterResponder("ping", "pong", pongFlow); err != nil {
		return err
	}

	go c.StartStatusExpiration(ctx)

	if *httpAddr != "" {
		mux := diag.NewServeMux(store)
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		srv := &http.Server{Addr: *httpAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	wctx, stop := context.WithCancel(ctx)
	if err := w.Start(wctx); err != nil {
		stop()
		return fmt.Errorf("starting worker: %w", err)
	}

	logger.Info("flow worker started", "backend", *backendType, "partitions", *partitions)

	if *runPing != "" {
		h, err := c.StartFlow(ctx, client.FlowOptions{Identity: alice, InitiatedBy: alice}, "ping", *runPing)
		if err != nil {
			stop()
			return err
		}

		r, err := client.GetFlowResult(ctx, c, h, time.Minute)
		if err != nil {
			logger.Error("ping flow did not complete", "flow", h.FlowID, "error", err)
		} else {
			fmt.Println(r)
		}

		stop()
	}

	<-wctx.Done()
	stop()

	return w.WaitForCompletion()
}

func openStore(ctx context.Context, bopts []backend.BackendOption) (backend.Store, error) {
	switch *backendType {
	case "memory":
		return memory.NewMemoryStore(bopts...), nil

	case "sqlite":
		if *dsn == "" {
			return sqlite.NewInMemoryStore(sqlite.WithBackendOptions(bopts...)), nil
		}

		return sqlite.NewSqliteStore(*dsn, sqlite.WithBackendOptions(bopts...)), nil

	case "mysql":
		return mysql.NewMysqlStoreFromDSN(*dsn, mysql.WithBackendOptions(bopts...))

	case "postgres":
		return postgres.NewPostgresStoreFromDSN(*dsn, postgres.WithBackendOptions(bopts...)), nil

	case "redis":
		addr := *dsn
		if addr == "" {
			addr = "localhost:6379"
		}

		rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		s, err := rb.NewRedisStore(rc, rb.WithBackendOptions(bopts...))
		if err != nil {
			rc.Close()
			return nil, err
		}

		return s, nil
	}

	return nil, fmt.Errorf("unknown backend %q", *backendType)
}

func tracerProvider(ctx context.Context) (trace.TracerProvider, error) {
	var opts []sdktrace.TracerProviderOption

	switch *traceMode {
	case "none":
		return noop.NewTracerProvider(), nil

	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithSyncer(exp))

	case "otlp":
		oclient := otlptracehttp.NewClient(otlptracehttp.WithEndpoint(*otlpAddr), otlptracehttp.WithInsecure())
		exp, err := otlptrace.New(ctx, oclient)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))

	default:
		return nil, fmt.Errorf("unknown trace exporter %q", *traceMode)
	}

	r := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("flowworker"),
		attribute.String("backend", *backendType),
	)

	return sdktrace.NewTracerProvider(append(opts, sdktrace.WithResource(r))...), nil
}
