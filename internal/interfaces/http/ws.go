package http

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/internal/metrics"
	"github.com/scanguard/scanguard/internal/progress"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 512
)

// progressUpgrader accepts browser clients from localhost only; non-browser
// clients send no Origin header and pass through.
var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

// ProgressHub fans pipeline progress events out to websocket subscribers.
// It implements progress.Printer so it can be handed straight to the
// pipeline; the event shapes match the JSON printer's stdout stream.
type ProgressHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	metrics *metrics.Registry
}

// NewProgressHub creates an empty hub. metrics may be nil in tests.
func NewProgressHub(m *metrics.Registry) *ProgressHub {
	return &ProgressHub{
		clients: make(map[*websocket.Conn]bool),
		metrics: m,
	}
}

// HandleConnection upgrades the request and subscribes it to run events.
func (h *ProgressHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	h.register(conn)
	log.Info().Str("remote", r.RemoteAddr).Int("clients", h.ClientCount()).Msg("progress client connected")

	// Subscribers only listen. The read loop exists to notice disconnects
	// and to drain control frames.
	go h.readLoop(conn)
}

// Start implements progress.Printer.
func (h *ProgressHub) Start(runID string, totalStages int) {
	h.broadcast(map[string]interface{}{
		"event":        "run_start",
		"timestamp":    time.Now().Format(time.RFC3339),
		"run_id":       runID,
		"total_stages": totalStages,
	})
}

// Stage implements progress.Printer.
func (h *ProgressHub) Stage(result progress.StageResult) {
	h.broadcast(map[string]interface{}{
		"event":     "run_stage",
		"timestamp": time.Now().Format(time.RFC3339),
		"stage":     result.Stage,
		"name":      result.Name,
		"status":    result.Status,
		"duration":  result.Duration.Milliseconds(),
		"detail":    result.Detail,
	})
}

// Complete implements progress.Printer.
func (h *ProgressHub) Complete(summary progress.RunSummary) {
	h.broadcast(map[string]interface{}{
		"event":            "run_complete",
		"timestamp":        time.Now().Format(time.RFC3339),
		"run_id":           summary.RunID,
		"success":          summary.Success,
		"failure_reason":   summary.FailureReason,
		"overall_score":    summary.OverallScore,
		"status":           summary.Status,
		"can_deploy":       summary.CanDeploy,
		"completed_stages": summary.CompletedStages,
		"total_stages":     summary.TotalStages,
		"total_duration":   summary.TotalDuration.Milliseconds(),
		"artifacts_path":   summary.ArtifactsPath,
	})
}

// ClientCount returns the number of connected subscribers.
func (h *ProgressHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *ProgressHub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ProgressClients.Inc()
	}
}

func (h *ProgressHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	_, known := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if known {
		conn.Close()
		if h.metrics != nil {
			h.metrics.ProgressClients.Dec()
		}
	}
}

func (h *ProgressHub) readLoop(conn *websocket.Conn) {
	defer h.unregister(conn)
	conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast sends one event to every subscriber, dropping connections whose
// writes fail. Writes happen under the hub lock so concurrent runs never
// interleave writers on one connection.
func (h *ProgressHub) broadcast(event map[string]interface{}) {
	h.mu.Lock()
	var dead []*websocket.Conn
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			dead = append(dead, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range dead {
		log.Warn().Msg("dropping stalled progress client")
		h.unregister(conn)
	}
}
