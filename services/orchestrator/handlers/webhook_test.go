// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the webhook handlers.

package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/OttoOrchestrator/pkg/secrets"
	"github.com/AleutianAI/OttoOrchestrator/services/llm"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/advisors"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/audit"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/config"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/dedupe"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/guards"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/identity"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/middleware"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/outbound"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/pii"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/pipeline"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/prompts"
	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/sessions"
)

// failingDedupe rejects every MarkIfNew with ErrUnavailable.
type failingDedupe struct {
	dedupe.Store
}

func (f *failingDedupe) MarkIfNew(context.Context, string, time.Duration) (bool, error) {
	return false, fmt.Errorf("%w: injected", dedupe.ErrUnavailable)
}

// newTestPipeline wires a pipeline over memory backends with the LLM
// disabled, so every advisor takes its deterministic fallback and the
// happy path still emits a reply.
func newTestPipeline(t *testing.T, cfg *config.Config, store dedupe.Store) *pipeline.Pipeline {
	t.Helper()

	spam, err := guards.NewSpamFilter()
	require.NoError(t, err)

	deriver, err := identity.NewDeriver([]byte("test-pepper"))
	require.NoError(t, err)

	provider, err := prompts.NewProvider("")
	require.NoError(t, err)
	t.Cleanup(provider.Close)

	client := llm.Disabled{}
	return pipeline.New(pipeline.Dependencies{
		Config:    cfg,
		Dedupe:    store,
		Sessions:  sessions.NewManager(sessions.NewMemoryStore(), cfg.SessionTTL, cfg.SessionHistoryMaxEntries),
		Guard:     guards.NewGuard(guards.NewMemoryFloodDetector(cfg.FloodThreshold, cfg.FloodWindow), spam, cfg.IntentQueueCapacity),
		Selector:  advisors.NewStateSelector(client, provider, cfg.StateSelectorThreshold, cfg.StateSelectorTimeout),
		Generator: advisors.NewResponseGenerator(client, provider, cfg.MinResponses, cfg.ResponseGeneratorTimeout),
		Decider:   advisors.NewMasterDecider(client, provider, cfg.MasterDeciderTimeout),
		Sanitizer: pii.NewSanitizer(),
		Identity:  deriver,
		Audit:     audit.NewAppender(audit.NewMemoryStore()),
		Decisions: audit.NewMemoryDecisionStore(),
		Queue:     outbound.NewQueue(cfg.OutboundQueueSize),
	})
}

func webhookConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvDevelopment,
		TenantID:    "tenant-test",

		DedupeTTL:                24 * time.Hour,
		SessionTTL:               2 * time.Hour,
		SessionHistoryMaxEntries: 200,
		FloodThreshold:           100,
		FloodWindow:              time.Minute,
		MaxBatchMessages:         100,
		IntentQueueCapacity:      3,

		StateSelectorThreshold: 0.7,
		MinResponses:           3,

		StateSelectorTimeout:     100 * time.Millisecond,
		ResponseGeneratorTimeout: 100 * time.Millisecond,
		MasterDeciderTimeout:     100 * time.Millisecond,
		DedupeTimeout:            100 * time.Millisecond,
		SessionIOTimeout:         200 * time.Millisecond,
		AuditTimeout:             200 * time.Millisecond,

		OttoIntro: config.DefaultOttoIntro,

		OutboundQueueSize: 16,
	}
}

func envelopeJSON(t *testing.T, count int) []byte {
	t.Helper()

	messages := make([]datatypes.RawMessage, count)
	for i := range messages {
		messages[i] = datatypes.RawMessage{
			ID:        fmt.Sprintf("wamid.%d", i+1),
			From:      "5511999999999",
			Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
			Type:      "text",
			Text:      &datatypes.TextBlock{Body: "olá"},
		}
	}
	payload := datatypes.WebhookPayload{
		Object: "whatsapp_business_account",
		Entry: []datatypes.WebhookEntry{{
			ID: "entry-1",
			Changes: []datatypes.WebhookChange{{
				Field: "messages",
				Value: datatypes.WebhookValue{MessagingProduct: "whatsapp", Messages: messages},
			}},
		}},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

type webhookResponse struct {
	OK     bool                      `json:"ok"`
	Result *datatypes.ProcessSummary `json:"result"`
	Detail string                    `json:"detail"`
}

func postWebhook(t *testing.T, router *gin.Engine, body []byte, header http.Header) (*httptest.ResponseRecorder, webhookResponse) {
	t.Helper()

	w := httptest.NewRecorder()
	req, err := http.NewRequest("POST", "/webhooks/whatsapp", bytes.NewReader(body))
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	router.ServeHTTP(w, req)

	var resp webhookResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// =============================================================================
// ProcessWebhook Tests
// =============================================================================

func TestProcessWebhook_HappyPath(t *testing.T) {
	cfg := webhookConfig()
	p := newTestPipeline(t, cfg, dedupe.NewMemoryStore())

	router := gin.New()
	router.POST("/webhooks/whatsapp", ProcessWebhook(p))

	w, resp := postWebhook(t, router, envelopeJSON(t, 1), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 1, resp.Result.TotalReceived)
	assert.Equal(t, 1, resp.Result.TotalProcessed)
	assert.True(t, resp.Result.SignatureSkipped, "no signature middleware in this chain")
}

func TestProcessWebhook_InvalidJSON(t *testing.T) {
	cfg := webhookConfig()
	p := newTestPipeline(t, cfg, dedupe.NewMemoryStore())

	router := gin.New()
	router.POST("/webhooks/whatsapp", ProcessWebhook(p))

	w, resp := postWebhook(t, router, []byte("{not json"), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_json", resp.Detail)
}

func TestProcessWebhook_BatchTooLarge(t *testing.T) {
	cfg := webhookConfig()
	p := newTestPipeline(t, cfg, dedupe.NewMemoryStore())

	router := gin.New()
	router.POST("/webhooks/whatsapp", ProcessWebhook(p))

	w, resp := postWebhook(t, router, envelopeJSON(t, cfg.MaxBatchMessages+1), nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "batch_too_large", resp.Detail)
}

func TestProcessWebhook_BackendUnavailable(t *testing.T) {
	cfg := webhookConfig()
	cfg.Environment = config.EnvStaging
	p := newTestPipeline(t, cfg, &failingDedupe{Store: dedupe.NewMemoryStore()})

	router := gin.New()
	router.POST("/webhooks/whatsapp", ProcessWebhook(p))

	w, resp := postWebhook(t, router, envelopeJSON(t, 1), nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "temporarily_unavailable", resp.Detail)
}

func TestProcessWebhook_SignatureResultPropagates(t *testing.T) {
	cfg := webhookConfig()
	p := newTestPipeline(t, cfg, dedupe.NewMemoryStore())
	provider := secrets.NewStatic(map[string]string{secrets.WebhookSecret: "top-secret"})

	router := gin.New()
	router.POST("/webhooks/whatsapp",
		middleware.CorrelationID(),
		middleware.WebhookSignature(provider),
		ProcessWebhook(p),
	)

	body := envelopeJSON(t, 1)
	mac := hmac.New(sha256.New, []byte("top-secret"))
	mac.Write(body)
	header := http.Header{}
	header.Set(middleware.SignatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))

	w, resp := postWebhook(t, router, body, header)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.SignatureValidated)
	assert.False(t, resp.Result.SignatureSkipped)
}

// =============================================================================
// VerifySubscription Tests
// =============================================================================

func verifyRouter(provider secrets.Provider) *gin.Engine {
	router := gin.New()
	router.GET("/webhooks/whatsapp", VerifySubscription(provider))
	return router
}

func TestVerifySubscription_EchoesChallenge(t *testing.T) {
	router := verifyRouter(secrets.NewStatic(map[string]string{secrets.VerifyToken: "tok-123"}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET",
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=tok-123&hub.challenge=challenge-456", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "challenge-456", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestVerifySubscription_RejectsBadToken(t *testing.T) {
	router := verifyRouter(secrets.NewStatic(map[string]string{secrets.VerifyToken: "tok-123"}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET",
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=c", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "verification_failed")
}

func TestVerifySubscription_RejectsWrongMode(t *testing.T) {
	router := verifyRouter(secrets.NewStatic(map[string]string{secrets.VerifyToken: "tok-123"}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET",
		"/webhooks/whatsapp?hub.mode=unsubscribe&hub.verify_token=tok-123&hub.challenge=c", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestVerifySubscription_MissingTokenConfig(t *testing.T) {
	router := verifyRouter(secrets.NewStatic(nil))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET",
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=c", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "verify_token_not_configured")
}
