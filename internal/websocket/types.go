package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeEmbeddingGenerated is sent after an embedding request completes
	EventTypeEmbeddingGenerated EventType = "embedding_generated"
	// EventTypeSimilarityComputed is sent after a similarity request completes
	EventTypeSimilarityComputed EventType = "similarity_computed"
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

// EmbeddingEvent describes one completed embedding request
type EmbeddingEvent struct {
	RequestID   string  `json:"request_id"`
	Texts       int     `json:"texts"`
	Dimensions  int     `json:"dimensions"`
	TotalTokens int     `json:"total_tokens"`
	CacheHits   int     `json:"cache_hits"`
	ClientIP    string  `json:"client_ip"`
	DurationMS  float64 `json:"duration_ms"`
}

// SimilarityEvent describes one completed similarity request
type SimilarityEvent struct {
	RequestID  string  `json:"request_id"`
	Score      float32 `json:"score"`
	ClientIP   string  `json:"client_ip"`
	DurationMS float64 `json:"duration_ms"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	Model            string  `json:"model"`
	Dimensions       int     `json:"dimensions"`
	TotalTexts       int64   `json:"total_texts"`
	TotalInferences  int64   `json:"total_inferences"`
	AvgInferenceMS   float64 `json:"avg_inference_ms"`
	CacheHitRatio    float64 `json:"cache_hit_ratio"`
	ErrorRate        float64 `json:"error_rate"`
	ConnectedClients int     `json:"connected_clients"`
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

	// nil means every event; guarded by Hub.mu
	subscription map[EventType]bool
}
