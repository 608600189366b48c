package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/HelioGo/internal/debug"
	"github.com/cjeanneret/HelioGo/internal/logic/control"
)

// MaxCommandBytes caps one command, over HTTP or WebSocket.
const MaxCommandBytes = 4096

// Submitter hands one raw command to the control loop and waits for its
// reply. *control.Loop implements it.
type Submitter interface {
	Submit(ctx context.Context, text string) (control.Reply, error)
}

// SiteDefaults pre-fills the setup form.
type SiteDefaults struct {
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lon"`
	GMTOffsetSec int     `json:"gmt"`
	DSTOffsetSec int     `json:"dst"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *LogBroadcaster
	Commands    Submitter
	Site        SiteDefaults
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If commands is nil, /command and /ws answer 503 Service Unavailable.
func NewHandlers(broadcaster *LogBroadcaster, commands Submitter, site SiteDefaults, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Commands:    commands,
		Site:        site,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleConfig returns the setup form defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Site)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCommand handles POST /command: the body is one command. Commands
// that answer get 200 with the status JSON, the others 204.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Commands == nil {
		http.Error(w, "controller not running", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxCommandBytes))
	if err != nil {
		http.Error(w, "command too large", http.StatusBadRequest)
		return
	}

	reply, err := h.Commands.Submit(r.Context(), strings.TrimSpace(string(body)))
	if err != nil {
		debug.Error(err)
		http.Error(w, "controller not running", http.StatusServiceUnavailable)
		return
	}
	if !reply.OK {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(reply.Body)
}

// HandleWebSocket handles GET /ws, the push channel of the control page.
// Each text frame is one command; a status reply goes back to this
// connection only.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.Commands == nil {
		http.Error(w, "controller not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		debug.Verbose("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxCommandBytes)
	debug.Info("WebSocket client connected: %s", r.RemoteAddr)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debug.Error(err)
			}
			debug.Info("WebSocket client disconnected: %s", r.RemoteAddr)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		reply, err := h.Commands.Submit(r.Context(), string(data))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				debug.Error(err)
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller stopped"),
				time.Now().Add(time.Second))
			return
		}
		if !reply.OK {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, reply.Body); err != nil {
			debug.Error(err)
			return
		}
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
