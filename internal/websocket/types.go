package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeMasking is sent after text was obfuscated
	EventTypeMasking EventType = "masking"
	// EventTypeRestore is sent after text was deobfuscated
	EventTypeRestore EventType = "restore"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// MaskingEvent reports what categories were masked. It never carries originals.
type MaskingEvent struct {
	Source        string                `json:"source"` // api, session, relay
	SessionID     string                `json:"session_id,omitempty"`
	Findings      []obfuscation.Finding `json:"findings"`
	TotalFindings int                   `json:"total_findings"`
	ProcessingMS  float64               `json:"processing_ms"`
}

// RestoreEvent reports a deobfuscation
type RestoreEvent struct {
	Source              string  `json:"source"`
	SessionID           string  `json:"session_id,omitempty"`
	Mappings            int     `json:"mappings"`
	MissingPlaceholders int     `json:"missing_placeholders"`
	UnknownPlaceholders int     `json:"unknown_placeholders"`
	ProcessingMS        float64 `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	StatusCode int           `json:"status_code"`
	ClientIP   string        `json:"client_ip"`
	UserAgent  string        `json:"user_agent,omitempty"`
	Duration   time.Duration `json:"duration"`
	BytesOut   int64         `json:"bytes_out"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string   `json:"status"`
	Uptime           string   `json:"uptime"`
	StoreBackend     string   `json:"store_backend"`
	Categories       []string `json:"categories"`
	ConnectedClients int      `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	// nil means every event
	subscription map[EventType]bool
}

func (c *Client) subscribed(t EventType) bool {
	if c.subscription == nil {
		return true
	}
	return c.subscription[t]
}
