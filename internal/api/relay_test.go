package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-veil/internal/config"
)

// echoUpstream records what it received and answers with it
type echoUpstream struct {
	path string
	body string
	// json makes the upstream answer with the received document as application/json
	json bool
}

func (e *echoUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	e.path = r.URL.Path
	e.body = string(data)
	if e.json {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, e.body)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, "Received: "+e.body)
}

func newRelayServer(t *testing.T, defaults []string) (*Server, *echoUpstream) {
	t.Helper()
	echo := &echoUpstream{}
	upstream := httptest.NewServer(echo)
	t.Cleanup(upstream.Close)

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Relay.Enabled = true
		cfg.Relay.Upstreams = map[string]string{"test": upstream.URL + "/api"}
		cfg.Engine.CustomWords = defaults
	})
	return s, echo
}

func relay(t *testing.T, s *Server, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRelayMasksRequestAndRestoresResponse(t *testing.T) {
	s, echo := newRelayServer(t, nil)

	rec := relay(t, s, "/relay/test/v1/chat", "Email john@example.com please", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "/api/v1/chat", echo.path)
	assert.Equal(t, "Email [EMAIL_1] please", echo.body, "upstream only sees placeholders")
	assert.Equal(t, "Received: Email john@example.com please", rec.Body.String())
}

func TestRelayCustomWords(t *testing.T) {
	t.Run("configured defaults", func(t *testing.T) {
		s, echo := newRelayServer(t, []string{"Falcon"})

		rec := relay(t, s, "/relay/test/x", "project Falcon", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "project [CUSTOM_1]", echo.body)
		assert.Equal(t, "Received: project Falcon", rec.Body.String())
	})

	t.Run("header overrides defaults", func(t *testing.T) {
		s, echo := newRelayServer(t, []string{"Falcon"})

		rec := relay(t, s, "/relay/test/x", "project Falcon by Osprey", map[string]string{
			CustomWordsHeader: `["Osprey"]`,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "project Falcon by [CUSTOM_1]", echo.body)
	})

	t.Run("malformed header", func(t *testing.T) {
		s, _ := newRelayServer(t, nil)

		rec := relay(t, s, "/relay/test/x", "hello", map[string]string{CustomWordsHeader: "Osprey"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRelayUnknownProvider(t *testing.T) {
	s, _ := newRelayServer(t, nil)

	rec := relay(t, s, "/relay/nope/v1/chat", "hello", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown provider")
}

func TestRelayUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Relay.Enabled = true
		cfg.Relay.Upstreams = map[string]string{"down": url}
	})

	rec := relay(t, s, "/relay/down/v1", "hello", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNewRejectsBadUpstream(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Relay.Upstreams = map[string]string{"bad": "not a url"}
	_, err := New(cfg, nil, nil, nil)
	assert.Error(t, err)
}

func TestSingleJoiningSlash(t *testing.T) {
	assert.Equal(t, "/api/v1", singleJoiningSlash("/api", "/v1"))
	assert.Equal(t, "/api/v1", singleJoiningSlash("/api/", "/v1"))
	assert.Equal(t, "/v1", singleJoiningSlash("", "/v1"))
}

type chatPayload struct {
	Model       string        `json:"model"`
	Temperature json.Number   `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func TestRelayMasksJSONStringValues(t *testing.T) {
	s, echo := newRelayServer(t, nil)
	echo.json = true

	body := `{"model":"gpt-4o","temperature":0.25,"messages":[{"role":"user","content":"Summarize:\nJohn Smith\n555-123-4567\nAB1234567"}]}`
	rec := relay(t, s, "/relay/test/v1/chat", body, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.NotContains(t, echo.body, "John Smith")
	assert.NotContains(t, echo.body, "555-123-4567")
	assert.NotContains(t, echo.body, "AB1234567")

	var sent chatPayload
	require.NoError(t, json.Unmarshal([]byte(echo.body), &sent))
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "Summarize:\n[NAME_1]\n[PHONE_1]\n[ID_1]", sent.Messages[0].Content)
	assert.Equal(t, "user", sent.Messages[0].Role)
	assert.Equal(t, "gpt-4o", sent.Model)
	assert.Equal(t, json.Number("0.25"), sent.Temperature)

	var got chatPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Summarize:\nJohn Smith\n555-123-4567\nAB1234567", got.Messages[0].Content)
}

func TestRelayJSONSharesPlaceholdersAcrossValues(t *testing.T) {
	s, echo := newRelayServer(t, nil)

	body := `{"messages":[{"role":"system","content":"Hi\nJohn Smith"},{"role":"user","content":"Write to John Smith at a@b.io"}]}`
	rec := relay(t, s, "/relay/test/v1/chat", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sent chatPayload
	require.NoError(t, json.Unmarshal([]byte(echo.body), &sent))
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "Hi\n[NAME_1]", sent.Messages[0].Content)
	assert.Equal(t, "Write to [NAME_1] at [EMAIL_1]", sent.Messages[1].Content)
}

func TestRelayRestoresJSONSafely(t *testing.T) {
	s, echo := newRelayServer(t, nil)
	echo.json = true

	body := `{"q":"about Project \"X\" now"}`
	rec := relay(t, s, "/relay/test/x", body, map[string]string{
		"Content-Type":    "application/json; charset=utf-8",
		CustomWordsHeader: `["Project \"X\""]`,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, `{"q":"about [CUSTOM_1] now"}`, echo.body)
	assert.True(t, json.Valid(rec.Body.Bytes()), rec.Body.String())
	assert.JSONEq(t, body, rec.Body.String())
}

func TestRelayInvalidJSONMaskedAsText(t *testing.T) {
	s, echo := newRelayServer(t, nil)

	rec := relay(t, s, "/relay/test/x", `{"q": "mail a@b.io"`, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"q": "mail [EMAIL_1]"`, echo.body)
}

func TestRelayRejectsEncodedRequestBodies(t *testing.T) {
	s, echo := newRelayServer(t, nil)

	rec := relay(t, s, "/relay/test/x", "\x1f\x8b compressed", map[string]string{"Content-Encoding": "gzip"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, echo.body, "nothing reaches the upstream")

	rec = relay(t, s, "/relay/test/x", "mail a@b.io", map[string]string{"Content-Encoding": "identity"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mail [EMAIL_1]", echo.body)
}
