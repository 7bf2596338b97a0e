package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/ccd"
	"github.com/cjeanneret/gphotoccd/internal/property"
)

// Event kinds carried on the status stream.
const (
	KindLog      = "log"
	KindProperty = "property"
	KindExposure = "exposure"
)

// StatusEvent is one SSE message.
type StatusEvent struct {
	Time  string          `json:"t"`
	Kind  string          `json:"k"`
	Level string          `json:"l,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Broadcast sends a log line to all subscribed clients.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Kind: KindLog, Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Publish sends v as the data of a kind event.
func (b *StatusBroadcaster) Publish(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.send(StatusEvent{Kind: kind, Data: data})
	return nil
}

// PublishExposure implements ccd.Publisher.
func (b *StatusBroadcaster) PublishExposure(e ccd.Exported) error {
	return b.Publish(KindExposure, e)
}

// PropertyListener adapts Publish to property.Registry.OnChange.
func (b *StatusBroadcaster) PropertyListener() func(property.Snapshot) {
	return func(s property.Snapshot) { b.Publish(KindProperty, s) }
}

// send never blocks: slow clients miss messages.
func (b *StatusBroadcaster) send(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
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

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
