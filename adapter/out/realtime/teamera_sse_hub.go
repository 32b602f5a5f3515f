// Package realtime fans profile events out to connected API clients over
// Server-Sent Events.
package realtime

import (
	"bufio"
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"teamera_server/core/domain"
	"teamera_server/core/port/out"
)

const (
	clientBuffer             = 64
	defaultHeartbeatInterval = 30 * time.Second
)

// SSEHub implements out.RealtimePort with one buffered channel per open
// stream. A full buffer drops the event for that stream only.
type SSEHub struct {
	mu      sync.RWMutex
	clients map[string]map[chan *domain.RealtimeEvent]struct{}
	log     zerolog.Logger

	heartbeat time.Duration
	seq       atomic.Int64
	sent      atomic.Int64
	dropped   atomic.Int64
}

var _ out.RealtimePort = (*SSEHub)(nil)

func NewSSEHub(log zerolog.Logger) *SSEHub {
	return &SSEHub{
		clients:   make(map[string]map[chan *domain.RealtimeEvent]struct{}),
		log:       log.With().Str("component", "sse_hub").Logger(),
		heartbeat: defaultHeartbeatInterval,
	}
}

// SetHeartbeat changes the comment-line interval used by new streams.
func (h *SSEHub) SetHeartbeat(d time.Duration) {
	if d > 0 {
		h.heartbeat = d
	}
}

func (h *SSEHub) Heartbeat() time.Duration { return h.heartbeat }

func (h *SSEHub) Subscribe(userID string) <-chan *domain.RealtimeEvent {
	ch := make(chan *domain.RealtimeEvent, clientBuffer)

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[chan *domain.RealtimeEvent]struct{})
	}
	h.clients[userID][ch] = struct{}{}
	n := len(h.clients[userID])
	h.mu.Unlock()

	h.log.Debug().Str("user_id", userID).Int("streams", n).Msg("client subscribed")
	return ch
}

func (h *SSEHub) Unsubscribe(userID string, ch <-chan *domain.RealtimeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	streams, ok := h.clients[userID]
	if !ok {
		return
	}
	for c := range streams {
		if c == ch {
			delete(streams, c)
			close(c)
			break
		}
	}
	if len(streams) == 0 {
		delete(h.clients, userID)
	}
	h.log.Debug().Str("user_id", userID).Msg("client unsubscribed")
}

// Push delivers event to every stream of userID. It never blocks.
func (h *SSEHub) Push(_ context.Context, userID string, event *domain.RealtimeEvent) error {
	event.Seq = h.seq.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients[userID] {
		select {
		case ch <- event:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
			h.log.Warn().
				Str("user_id", userID).
				Str("event_type", string(event.Type)).
				Int64("seq", event.Seq).
				Msg("dropped event, stream buffer full")
		}
	}
	return nil
}

func (h *SSEHub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *SSEHub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Stats is reported on /ready.
type Stats struct {
	ConnectedUsers int   `json:"connected_users"`
	Streams        int   `json:"streams"`
	Sent           int64 `json:"sent"`
	Dropped        int64 `json:"dropped"`
}

func (h *SSEHub) Stats() Stats {
	h.mu.RLock()
	streams := 0
	for _, s := range h.clients {
		streams += len(s)
	}
	users := len(h.clients)
	h.mu.RUnlock()

	return Stats{
		ConnectedUsers: users,
		Streams:        streams,
		Sent:           h.sent.Load(),
		Dropped:        h.dropped.Load(),
	}
}

// WriteEvent writes event in text/event-stream framing and flushes.
func WriteEvent(w *bufio.Writer, event *domain.RealtimeEvent) error {
	data, err := json.Marshal(struct {
		Type      domain.EventType `json:"type"`
		Seq       int64            `json:"seq"`
		Data      any              `json:"data"`
		Timestamp string           `json:"timestamp"`
	}{event.Type, event.Seq, event.Data, event.Timestamp.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}

	if event.Seq > 0 {
		_, _ = w.WriteString("id: " + strconv.FormatInt(event.Seq, 10) + "\n")
	}
	_, _ = w.WriteString("event: " + string(event.Type) + "\n")
	_, _ = w.WriteString("data: ")
	_, _ = w.Write(data)
	_, _ = w.WriteString("\n\n")
	return w.Flush()
}

// WriteHeartbeat writes an SSE comment line and flushes.
func WriteHeartbeat(w *bufio.Writer) error {
	_, _ = w.WriteString(": heartbeat\n\n")
	return w.Flush()
}
