// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/OttoOrchestrator/pkg/secrets"
	"github.com/AleutianAI/OttoOrchestrator/services/llm"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/advisors"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/audit"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/config"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/dedupe"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/guards"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/identity"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/middleware"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/observability"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/outbound"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/pii"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/pipeline"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/prompts"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/routes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/sessions"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("otto-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// backendSelected reports whether any configured store uses the backend.
func backendSelected(cfg *config.Config, backend string) bool {
	for _, b := range []string{
		cfg.DedupeBackend, cfg.SessionBackend, cfg.FloodBackend,
		cfg.AuditBackend, cfg.DecisionAuditBackend,
	} {
		if b == backend {
			return true
		}
	}
	return false
}

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	secretsProvider, err := secrets.NewEnvProvider(secrets.DefaultEnvMapping())
	if err != nil {
		log.Fatalf("Failed to initialize the secrets provider: %v", err)
	}
	defer secretsProvider.Close()

	// Development tolerates skipped signatures and a shared pepper;
	// everywhere else both secrets must be present.
	if _, ok := secretsProvider.Secret(secrets.WebhookSecret); !ok && !cfg.IsDevelopment() {
		log.Fatalf("WHATSAPP_WEBHOOK_SECRET must be set in %s", cfg.Environment)
	}
	if _, ok := secretsProvider.Secret(secrets.VerifyToken); !ok && !cfg.IsDevelopment() {
		slog.Warn("WHATSAPP_VERIFY_TOKEN not set. Webhook subscription verification will fail.")
	}

	pepper, ok := secretsProvider.Secret(secrets.UserKeyPepper)
	if !ok {
		if !cfg.IsDevelopment() {
			log.Fatalf("USER_KEY_PEPPER must be set in %s", cfg.Environment)
		}
		slog.Warn("USER_KEY_PEPPER not set. Audit user keys will not match other deployments.")
		pepper = []byte("otto-development-pepper")
	}
	deriver, err := identity.NewDeriver(pepper)
	if err != nil {
		log.Fatalf("Failed to initialize the user key deriver: %v", err)
	}

	// --- Init the tracer ---
	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set. Tracing disabled.")
	}

	ctx := context.Background()

	// Shared backend clients. redisCmd stays a nil interface when no
	// store selected redis; a typed nil pointer would slip past the
	// factories' nil checks.
	var redisCmd redis.Cmdable
	if backendSelected(cfg, config.BackendRedis) {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(opt)
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("Redis unreachable: %v", err)
		}
		redisCmd = client
	}

	var firestoreClient *firestore.Client
	if backendSelected(cfg, config.BackendFirestore) {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirestoreProjectID})
		if err != nil {
			log.Fatalf("Failed to initialize Firebase: %v", err)
		}
		firestoreClient, err = app.Firestore(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize the Firestore client: %v", err)
		}
		defer firestoreClient.Close()
	}

	dedupeStore, err := dedupe.New(cfg.DedupeBackend, dedupe.Options{
		Environment: cfg.Environment,
		Redis:       redisCmd,
		Firestore:   firestoreClient,
	})
	if err != nil {
		log.Fatalf("Failed to initialize the dedupe store: %v", err)
	}

	sessionStore, err := sessions.New(cfg.SessionBackend, sessions.Options{
		Environment: cfg.Environment,
		Redis:       redisCmd,
		Firestore:   firestoreClient,
	})
	if err != nil {
		log.Fatalf("Failed to initialize the session store: %v", err)
	}
	sessionManager := sessions.NewManager(sessionStore, cfg.SessionTTL, cfg.SessionHistoryMaxEntries)

	auditStore, err := audit.New(cfg.AuditBackend, audit.Options{
		Environment: cfg.Environment,
		Redis:       redisCmd,
		Firestore:   firestoreClient,
	})
	if err != nil {
		log.Fatalf("Failed to initialize the audit store: %v", err)
	}

	decisionStore, err := audit.NewDecisionStore(cfg.DecisionAuditBackend, audit.Options{
		Environment: cfg.Environment,
		Redis:       redisCmd,
		Firestore:   firestoreClient,
	})
	if err != nil {
		log.Fatalf("Failed to initialize the decision audit store: %v", err)
	}

	flood, err := guards.NewFloodDetector(cfg.FloodBackend, guards.FloodOptions{
		Environment: cfg.Environment,
		Threshold:   cfg.FloodThreshold,
		Window:      cfg.FloodWindow,
		Redis:       redisCmd,
	})
	if err != nil {
		log.Fatalf("Failed to initialize the flood detector: %v", err)
	}
	spam, err := guards.NewSpamFilter()
	if err != nil {
		log.Fatalf("Failed to initialize the spam filter: %v", err)
	}
	guard := guards.NewGuard(flood, spam, cfg.IntentQueueCapacity)

	log.Println("Configuring the LLM Client")
	apiKey := ""
	if raw, ok := secretsProvider.Secret(secrets.OpenAIAPIKey); ok {
		apiKey = string(raw)
	}
	model := cfg.OpenAIModel
	if cfg.LLMBackend == "ollama" {
		model = cfg.OllamaModel
	}
	llmClient, err := llm.New(cfg.LLMBackend, model, cfg.OllamaBaseURL, apiKey)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	switch cfg.LLMBackend {
	case "openai":
		slog.Info("Using OpenAI LLM backend", "model", cfg.OpenAIModel)
	case "ollama":
		slog.Info("Using Ollama LLM backend", "model", cfg.OllamaModel, "base_url", cfg.OllamaBaseURL)
	default:
		slog.Warn("LLM_BACKEND not set. Advisors run on deterministic fallbacks.")
	}

	promptProvider, err := prompts.NewProvider(cfg.PromptsDir)
	if err != nil {
		log.Fatalf("Failed to load advisor prompts: %v", err)
	}
	defer promptProvider.Close()

	selector := advisors.NewStateSelector(llmClient, promptProvider, cfg.StateSelectorThreshold, cfg.StateSelectorTimeout)
	generator := advisors.NewResponseGenerator(llmClient, promptProvider, cfg.MinResponses, cfg.ResponseGeneratorTimeout)
	decider := advisors.NewMasterDecider(llmClient, promptProvider, cfg.MasterDeciderTimeout)

	queue := outbound.NewQueue(cfg.OutboundQueueSize)
	dispatcher := outbound.NewDispatcher(queue, outbound.LoggingSender{}, dedupeStore, outbound.DispatcherOptions{
		Workers:       cfg.OutboundWorkers,
		RatePerSecond: cfg.OutboundRatePerSecond,
	})

	// The dispatcher drains on queue.Close rather than signal cancel so
	// replies already accepted still go out during shutdown.
	dispatcherDone := make(chan error, 1)
	go func() { dispatcherDone <- dispatcher.Run(context.Background()) }()

	metrics := observability.InitMetrics(queue.Depth)

	pipe := pipeline.New(pipeline.Dependencies{
		Config:    cfg,
		Dedupe:    dedupeStore,
		Sessions:  sessionManager,
		Guard:     guard,
		Selector:  selector,
		Generator: generator,
		Decider:   decider,
		Sanitizer: pii.NewSanitizer(),
		Identity:  deriver,
		Audit:     audit.NewAppender(auditStore),
		Decisions: decisionStore,
		Queue:     queue,
		Metrics:   metrics,
	})

	slog.Info("Otto orchestrator configured",
		"environment", cfg.Environment,
		"tenant_id", cfg.TenantID,
		"dedupe_backend", cfg.DedupeBackend,
		"session_backend", cfg.SessionBackend,
		"flood_backend", cfg.FloodBackend,
		"audit_backend", cfg.AuditBackend,
		"decision_audit_backend", cfg.DecisionAuditBackend,
		"llm_backend", cfg.LLMBackend,
	)

	router := gin.Default()
	router.Use(otelgin.Middleware("otto-orchestrator"))
	router.Use(middleware.CorrelationID())

	routes.SetupRoutes(router, routes.Dependencies{
		Secrets:  secretsProvider,
		Pipeline: pipe,
		Metrics:  metrics,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.ListenAndServe() }()
	log.Println("Starting the orchestrator server on port", cfg.Port)

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		log.Fatalf("Failed to start server: %v", err)
	case <-stopCtx.Done():
	}

	slog.Info("Shutdown signal received. Draining.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown did not finish cleanly", "error", err)
	}

	queue.Close()
	if err := <-dispatcherDone; err != nil {
		slog.Error("Outbound dispatcher exited with an error", "error", err)
	}

	slog.Info("Shutdown complete")
}
