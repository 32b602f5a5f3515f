package realtime

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"teamera_server/core/domain"
)

func TestSSEHub_PushAndUnsubscribe(t *testing.T) {
	hub := NewSSEHub(zerolog.Nop())
	a := hub.Subscribe("u1")
	b := hub.Subscribe("u1")
	other := hub.Subscribe("u2")

	if hub.ConnectedCount() != 2 || !hub.IsConnected("u1") {
		t.Fatalf("connected = %d", hub.ConnectedCount())
	}

	ev := &domain.RealtimeEvent{Type: domain.EventProfileUpdated, Data: "x", Timestamp: time.Now()}
	_ = hub.Push(context.Background(), "u1", ev)

	for _, ch := range []<-chan *domain.RealtimeEvent{a, b} {
		select {
		case got := <-ch:
			if got.Seq != 1 {
				t.Errorf("seq = %d", got.Seq)
			}
		default:
			t.Error("event not delivered")
		}
	}
	select {
	case <-other:
		t.Error("event leaked to another user")
	default:
	}

	hub.Unsubscribe("u1", a)
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel should be closed")
	}
	hub.Unsubscribe("u1", b)
	if hub.IsConnected("u1") {
		t.Error("u1 should be gone")
	}
}

func TestSSEHub_DropsWhenFull(t *testing.T) {
	hub := NewSSEHub(zerolog.Nop())
	hub.Subscribe("u1")

	for i := 0; i < clientBuffer+5; i++ {
		_ = hub.Push(context.Background(), "u1", &domain.RealtimeEvent{Type: domain.EventProfileUpdated})
	}
	st := hub.Stats()
	if st.Sent != clientBuffer || st.Dropped != 5 || st.Streams != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	ev := &domain.RealtimeEvent{
		Type:      domain.EventProfileUpdated,
		Seq:       7,
		Data:      map[string]string{"id": "u1"},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := WriteEvent(w, ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"id: 7\n",
		"event: profile.updated\n",
		`data: {"type":"profile.updated","seq":7,"data":{"id":"u1"},"timestamp":"2024-01-02T03:04:05Z"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Error("event must end with a blank line")
	}
}
