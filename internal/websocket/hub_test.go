package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

func startHub(t *testing.T, cfg *HubConfig) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForClients(t *testing.T, hub *Hub, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.GetStats().ActiveConnections == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShouldBroadcastEvent(t *testing.T) {
	hub := NewHub(&HubConfig{BroadcastMasking: true, BroadcastSystem: true}, zap.NewNop())

	assert.True(t, hub.shouldBroadcastEvent(EventTypeMasking))
	assert.True(t, hub.shouldBroadcastEvent(EventTypeSystemStatus))
	assert.False(t, hub.shouldBroadcastEvent(EventTypeRestore))
	assert.False(t, hub.shouldBroadcastEvent(EventTypeRequestLog))
	assert.False(t, hub.shouldBroadcastEvent(EventTypeConnection))
	assert.False(t, hub.shouldBroadcastEvent("unknown"))

	var nilHub *Hub
	assert.False(t, nilHub.shouldBroadcastEvent(EventTypeMasking))
}

func TestHubDeliversMaskingEvents(t *testing.T) {
	hub, srv := startHub(t, &HubConfig{BroadcastMasking: true})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.BroadcastEvent(Event{
		Type: EventTypeMasking,
		Data: MaskingEvent{
			Source:        "api",
			Findings:      []obfuscation.Finding{{Category: obfuscation.CategoryEmail, Count: 1}},
			TotalFindings: 1,
		},
	})
	// disabled type is never queued
	hub.BroadcastEvent(Event{Type: EventTypeRestore})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]interface{}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "masking", got["type"])
	data := got["data"].(map[string]interface{})
	assert.Equal(t, "api", data["source"])
	assert.EqualValues(t, 1, data["total_findings"])
}

func TestHubSubscriptionFilters(t *testing.T) {
	hub, srv := startHub(t, &HubConfig{BroadcastMasking: true, BroadcastRestore: true})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", Events: []EventType{EventTypeRestore}}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))

	// the pong proves the subscription was processed first
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong Event
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, EventTypePong, pong.Type)

	hub.BroadcastEvent(Event{Type: EventTypeMasking, Data: MaskingEvent{Source: "api"}})
	hub.BroadcastEvent(Event{Type: EventTypeRestore, Data: RestoreEvent{Source: "session", Mappings: 2}})

	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventTypeRestore, got.Type)
}

func TestHubBasicAuth(t *testing.T) {
	_, srv := startHub(t, &HubConfig{Username: "admin", Password: "secret"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth("admin", "secret")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), req.Header)
	require.NoError(t, err)
	conn.Close()
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(r))
}
