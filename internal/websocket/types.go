package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeAnonymization is emitted after text or data was anonymized
	EventTypeAnonymization EventType = "anonymization"
	// EventTypeRestoration is emitted after placeholders were restored
	EventTypeRestoration EventType = "restoration"
	// EventTypeVerification is emitted after a verification or regression run
	EventTypeVerification EventType = "verification"
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

// AnonymizationEvent describes one anonymization. It carries counts and
// placeholders only; original values never leave the server.
type AnonymizationEvent struct {
	RequestID       string         `json:"request_id"`
	SessionID       string         `json:"session_id"`
	Operation       string         `json:"operation"`
	Path            string         `json:"path"`
	ClientIP        string         `json:"client_ip"`
	TotalCount      int            `json:"total_count"`
	CountByCategory map[string]int `json:"count_by_category"`
	ProcessingMS    float64        `json:"processing_ms"`
}

// RestorationEvent describes one restore call
type RestorationEvent struct {
	RequestID    string  `json:"request_id"`
	SessionID    string  `json:"session_id,omitempty"`
	Path         string  `json:"path"`
	Mappings     int     `json:"mappings"`
	ProcessingMS float64 `json:"processing_ms"`
}

// VerificationEvent describes a verification or regression result
type VerificationEvent struct {
	RequestID string   `json:"request_id"`
	Kind      string   `json:"kind"` // verify or regression
	Valid     bool     `json:"valid"`
	Issues    []string `json:"issues,omitempty"`
	Accuracy  float64  `json:"accuracy,omitempty"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string        `json:"request_id"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string              `json:"type"`
	Data SubscriptionRequest `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows the events a subscribed client receives
type EventFilter struct {
	MinPIICount   int      `json:"min_pii_count,omitempty"`
	PathPrefixes  []string `json:"path_prefixes,omitempty"`
	ExcludeHealth bool     `json:"exclude_health,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
