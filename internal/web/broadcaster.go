package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// LogEvent is one log line pushed to SSE clients.
type LogEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// LogBroadcaster fans log lines out to every SSE client of
// /status/stream.
type LogBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewLogBroadcaster creates a broadcaster with no subscribers.
func NewLogBroadcaster() *LogBroadcaster {
	return &LogBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
// Calling it more than once is harmless.
func (b *LogBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers returns the number of connected clients.
func (b *LogBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a message to all subscribed clients as
// {"t":"...","l":"info","msg":"..."}. Slow clients miss messages rather
// than stall the logger.
func (b *LogBroadcaster) Broadcast(level, msg string) {
	evt := LogEvent{
		Time:  b.now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// LogWriter returns an io.Writer for debug.SetOutput: each write becomes
// one event, its level taken from the debug tag in the line.
func LogWriter(b *LogBroadcaster) *logWriter {
	return &logWriter{b: b}
}

type logWriter struct {
	b *LogBroadcaster
}

var levelTags = []struct {
	tag, level string
}{
	{"[ERROR]", "error"},
	{"[LIVE]", "live"},
	{"[VERBOSE]", "verbose"},
	{"[TRACE]", "trace"},
	{"[GPIO]", "trace"},
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}
	level := "info"
	for _, lt := range levelTags {
		if strings.Contains(msg, lt.tag) {
			level = lt.level
			break
		}
	}
	w.b.Broadcast(level, msg)
	return len(p), nil
}
