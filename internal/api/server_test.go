package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/config"
	"github.com/raaihank/pii-veil/internal/logger"
	"github.com/raaihank/pii-veil/internal/obfuscation"
	"github.com/raaihank/pii-veil/internal/session"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.WebSocket.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.Relay.Upstreams = map[string]string{}
	if mutate != nil {
		mutate(cfg)
	}

	engine, err := obfuscation.NewEngine(obfuscation.Options{Categories: cfg.Engine.Categories}, zap.NewNop())
	require.NoError(t, err)
	manager := session.NewManager(session.NewMemoryStore(0), engine, cfg.Engine.CustomWords, zap.NewNop())

	s, err := New(cfg, logger.NewNop(), engine, manager)
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]interface{}
	decodeBody(t, rec, &info)
	assert.Equal(t, "pii-veil", info["name"])
	assert.Equal(t, "memory", info["store_backend"])
	assert.Len(t, info["categories"], len(obfuscation.Categories()))
}

func TestObfuscateEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/obfuscate", ObfuscateRequest{
		Text: "Contact John Smith at john@example.com or 555-123-4567.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err, "response carries a generated request id")

	var resp ObfuscateResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Contact [NAME_1] at [EMAIL_1] or [PHONE_1].", resp.Obfuscated)
	require.Len(t, resp.Mappings, 3)
	assert.Equal(t, obfuscation.MappingEntry{Placeholder: "[EMAIL_1]", Original: "john@example.com", Category: obfuscation.CategoryEmail}, resp.Mappings[0])
	assert.Equal(t, []obfuscation.Finding{
		{Category: obfuscation.CategoryEmail, Count: 1},
		{Category: obfuscation.CategoryPhone, Count: 1},
		{Category: obfuscation.CategoryName, Count: 1},
	}, resp.Findings)

	t.Run("empty text gives empty arrays", func(t *testing.T) {
		rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/obfuscate", ObfuscateRequest{})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"obfuscated":"","mappings":[],"findings":[]}`, rec.Body.String())
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/obfuscate", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Contains(t, body["error"], "invalid request body")
	})
}

func TestDeobfuscateEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/deobfuscate", DeobfuscateRequest{
		Text: "Hi [NAME_1], see [EMAIL_9]",
		Mappings: []obfuscation.MappingEntry{
			{Placeholder: "[NAME_1]", Original: "John Smith", Category: obfuscation.CategoryName},
			{Placeholder: "[EMAIL_1]", Original: "john@example.com", Category: obfuscation.CategoryEmail},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DeobfuscateResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Hi John Smith, see [EMAIL_9]", resp.Restored)
	assert.Equal(t, []string{"[EMAIL_1]"}, resp.MissingPlaceholders)
	assert.Equal(t, []string{"[EMAIL_9]"}, resp.UnknownPlaceholders)
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Engine.CustomWords = []string{"Acme Corp"}
	})
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var sess session.Session
	decodeBody(t, rec, &sess)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, []string{"Acme Corp"}, sess.CustomWords)
	base := "/v1/sessions/" + sess.ID

	rec = doJSON(t, h, http.MethodPost, base+"/obfuscate", map[string]string{"text": "Acme Corp emailed jane@corp.io"})
	require.Equal(t, http.StatusOK, rec.Code)
	var masked ObfuscateResponse
	decodeBody(t, rec, &masked)
	assert.Equal(t, "[CUSTOM_1] emailed [EMAIL_1]", masked.Obfuscated)

	rec = doJSON(t, h, http.MethodPost, base+"/deobfuscate", map[string]string{"text": "Reply from [EMAIL_1]"})
	require.Equal(t, http.StatusOK, rec.Code)
	var restored DeobfuscateResponse
	decodeBody(t, rec, &restored)
	assert.Equal(t, "Reply from jane@corp.io", restored.Restored)
	assert.Equal(t, []string{"[CUSTOM_1]"}, restored.MissingPlaceholders)
	assert.Empty(t, restored.UnknownPlaceholders)

	rec = doJSON(t, h, http.MethodPost, base+"/custom-words", map[string]string{"word": "emailed"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sess)
	assert.Equal(t, "[CUSTOM_1] [CUSTOM_2] [EMAIL_1]", sess.MaskedText)

	rec = doJSON(t, h, http.MethodPost, base+"/custom-words", map[string]string{"word": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, base+"/custom-words/5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, base+"/custom-words/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, base+"/custom-words/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sess)
	assert.Equal(t, []string{"Acme Corp"}, sess.CustomWords)

	rec = doJSON(t, h, http.MethodPut, base+"/custom-words", map[string][]string{"words": {}})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sess)
	assert.Equal(t, "[NAME_1] emailed [EMAIL_1]", sess.MaskedText)

	rec = doJSON(t, h, http.MethodPost, base+"/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sess)
	assert.Empty(t, sess.MaskedText)
	assert.Empty(t, sess.Mappings)

	rec = doJSON(t, h, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "session not found")
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 60, Burst: 1}
	})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/obfuscate", ObfuscateRequest{Text: "hello"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/v1/obfuscate", ObfuscateRequest{Text: "hello"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestBodyLimitMiddleware(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 16
	})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/obfuscate", ObfuscateRequest{Text: strings.Repeat("x", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestApplyEngineConfig(t *testing.T) {
	s := newTestServer(t, nil)

	require.NoError(t, s.ApplyEngineConfig(config.EngineConfig{
		Categories:  []string{"email"},
		CustomWords: []string{"Falcon"},
	}))

	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/obfuscate", ObfuscateRequest{Text: "John Smith <js@x.io>"})
	var resp ObfuscateResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "John Smith <[EMAIL_1]>", resp.Obfuscated)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/v1/sessions", nil)
	var sess session.Session
	decodeBody(t, rec, &sess)
	assert.Equal(t, []string{"Falcon"}, sess.CustomWords)

	assert.Error(t, s.ApplyEngineConfig(config.EngineConfig{Categories: []string{"bogus"}}))
}
