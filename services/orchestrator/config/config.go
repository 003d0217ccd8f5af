// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the orchestrator's environment
// configuration. Secrets are NOT part of this package; they flow
// through pkg/secrets so they never sit in a plain struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Environments
// =============================================================================

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Backend names shared by the store factories.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// =============================================================================
// Config
// =============================================================================

// Config is the orchestrator's full runtime configuration. Every field
// has a development-safe default; staging and production additionally
// require shared (non-memory) backends.
type Config struct {
	Port        string `validate:"required"`
	Environment string `validate:"required,oneof=development staging production"`
	TenantID    string `validate:"required"`

	// Store backends.
	DedupeBackend        string `validate:"required,oneof=memory redis firestore"`
	SessionBackend       string `validate:"required,oneof=memory redis firestore"`
	FloodBackend         string `validate:"required,oneof=memory redis"`
	AuditBackend         string `validate:"required,oneof=memory redis firestore"`
	DecisionAuditBackend string `validate:"required,oneof=memory redis firestore"`

	RedisURL           string
	FirestoreProjectID string

	// TTLs and caps.
	DedupeTTL                time.Duration `validate:"min=1s"`
	SessionTTL               time.Duration `validate:"min=1s"`
	SessionHistoryMaxEntries int           `validate:"gt=0"`
	FloodThreshold           int           `validate:"gt=0"`
	FloodWindow              time.Duration `validate:"min=1s"`
	MaxBatchMessages         int           `validate:"gt=0"`
	IntentQueueCapacity      int           `validate:"gt=0"`

	// LLM advisors.
	LLMBackend             string  `validate:"required,oneof=openai ollama none"`
	OpenAIModel            string
	OllamaBaseURL          string
	OllamaModel            string
	StateSelectorThreshold float64 `validate:"gte=0,lte=1"`
	MasterDeciderThreshold float64 `validate:"gte=0,lte=1"`
	MinResponses           int     `validate:"gte=1"`

	// Stage deadlines.
	StateSelectorTimeout     time.Duration `validate:"min=100ms"`
	ResponseGeneratorTimeout time.Duration `validate:"min=100ms"`
	MasterDeciderTimeout     time.Duration `validate:"min=100ms"`
	DedupeTimeout            time.Duration `validate:"min=10ms"`
	SessionIOTimeout         time.Duration `validate:"min=10ms"`
	AuditTimeout             time.Duration `validate:"min=10ms"`

	// Reply shaping.
	OttoIntro  string `validate:"required"`
	PromptsDir string

	// Outbound dispatch.
	OutboundWorkers       int     `validate:"gt=0"`
	OutboundRatePerSecond float64 `validate:"gt=0"`
	OutboundQueueSize     int     `validate:"gt=0"`

	// Observability.
	LogLevel     string
	OTLPEndpoint string
}

// DefaultOttoIntro opens the first reply of each UTC day.
const DefaultOttoIntro = "Oi! Eu sou o Otto, assistente virtual da Aleutian."

// Load reads the environment into a Config, applying defaults for
// everything unset. Call Validate afterwards.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", EnvDevelopment),
		TenantID:    getEnv("TENANT_ID", "default"),

		DedupeBackend:        getEnv("DEDUPE_BACKEND", BackendMemory),
		SessionBackend:       getEnv("SESSION_STORE_BACKEND", BackendMemory),
		FloodBackend:         getEnv("FLOOD_DETECTOR_BACKEND", BackendMemory),
		AuditBackend:         getEnv("AUDIT_BACKEND", BackendMemory),
		DecisionAuditBackend: getEnv("DECISION_AUDIT_BACKEND", BackendMemory),

		RedisURL:           getEnv("REDIS_URL", ""),
		FirestoreProjectID: getEnv("FIRESTORE_PROJECT_ID", ""),

		DedupeTTL:                getEnvSeconds("DEDUPE_TTL_SECONDS", 86400),
		SessionTTL:               getEnvSeconds("SESSION_TTL_SECONDS", 7200),
		SessionHistoryMaxEntries: getEnvInt("SESSION_MESSAGE_HISTORY_MAX_ENTRIES", 200),
		FloodThreshold:           getEnvInt("FLOOD_THRESHOLD", 10),
		FloodWindow:              getEnvSeconds("FLOOD_TTL_SECONDS", 60),
		MaxBatchMessages:         getEnvInt("WEBHOOK_MAX_BATCH_MESSAGES", 100),
		IntentQueueCapacity:      getEnvInt("INTENT_QUEUE_CAPACITY", 3),

		LLMBackend:             getEnv("LLM_BACKEND", "none"),
		OpenAIModel:            getEnv("OPENAI_MODEL", ""),
		OllamaBaseURL:          getEnv("OLLAMA_BASE_URL", ""),
		OllamaModel:            getEnv("OLLAMA_MODEL", ""),
		StateSelectorThreshold: getEnvFloat("STATE_SELECTOR_THRESHOLD", 0.7),
		MasterDeciderThreshold: getEnvFloat("MASTER_DECIDER_CONFIDENCE_THRESHOLD", 0.7),
		MinResponses:           getEnvInt("RESPONSE_GENERATOR_MIN_RESPONSES", 3),

		StateSelectorTimeout:     getEnvMillis("STATE_SELECTOR_TIMEOUT_MS", 5000),
		ResponseGeneratorTimeout: getEnvMillis("RESPONSE_GENERATOR_TIMEOUT_MS", 8000),
		MasterDeciderTimeout:     getEnvMillis("MASTER_DECIDER_TIMEOUT_MS", 5000),
		DedupeTimeout:            getEnvMillis("DEDUPE_TIMEOUT_MS", 300),
		SessionIOTimeout:         getEnvMillis("SESSION_IO_TIMEOUT_MS", 500),
		AuditTimeout:             getEnvMillis("AUDIT_TIMEOUT_MS", 500),

		OttoIntro:  getEnv("OTTO_INTRO", DefaultOttoIntro),
		PromptsDir: getEnv("PROMPTS_DIR", ""),

		OutboundWorkers:       getEnvInt("OUTBOUND_WORKERS", 4),
		OutboundRatePerSecond: getEnvFloat("OUTBOUND_RATE_PER_SECOND", 10),
		OutboundQueueSize:     getEnvInt("OUTBOUND_QUEUE_SIZE", 1024),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Validate checks field constraints plus the cross-field rules the
// tags cannot express: memory backends are development-only, and the
// selected backends must have their connection settings.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Environment != EnvDevelopment {
		for name, backend := range map[string]string{
			"DEDUPE_BACKEND":         c.DedupeBackend,
			"SESSION_STORE_BACKEND":  c.SessionBackend,
			"FLOOD_DETECTOR_BACKEND": c.FloodBackend,
			"AUDIT_BACKEND":          c.AuditBackend,
			"DECISION_AUDIT_BACKEND": c.DecisionAuditBackend,
		} {
			if backend == BackendMemory {
				return fmt.Errorf("config: %s=memory is not allowed in %s", name, c.Environment)
			}
		}
	}

	if c.usesBackend(BackendRedis) && c.RedisURL == "" {
		return fmt.Errorf("config: a redis backend is selected but REDIS_URL is not set")
	}
	if c.usesBackend(BackendFirestore) && c.FirestoreProjectID == "" {
		return fmt.Errorf("config: a firestore backend is selected but FIRESTORE_PROJECT_ID is not set")
	}
	if c.LLMBackend == "ollama" && c.OllamaBaseURL == "" {
		return fmt.Errorf("config: LLM_BACKEND=ollama but OLLAMA_BASE_URL is not set")
	}

	return nil
}

// IsDevelopment reports whether the deployment tolerates process-local
// state and skipped signatures.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// PipelineDeadline is the per-message processing budget: the three
// advisor timeouts plus fixed headroom for stores and audit.
func (c *Config) PipelineDeadline() time.Duration {
	return c.StateSelectorTimeout + c.ResponseGeneratorTimeout + c.MasterDeciderTimeout + 2*time.Second
}

func (c *Config) usesBackend(backend string) bool {
	for _, b := range []string{
		c.DedupeBackend, c.SessionBackend, c.FloodBackend,
		c.AuditBackend, c.DecisionAuditBackend,
	} {
		if b == backend {
			return true
		}
	}
	return false
}

// =============================================================================
// Env Helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}

func getEnvMillis(key string, fallbackMillis int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMillis)) * time.Millisecond
}
