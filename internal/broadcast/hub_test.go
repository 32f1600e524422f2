package broadcast

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHubDeliversEvents(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	// The client registers asynchronously after the upgrade.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", hub.ClientCount())
	}

	hub.Publish(protocol.LifecycleEvent{
		Type:          protocol.EventTicketCreated,
		CorrelationID: "tg:100",
		Timestamp:     time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev protocol.LifecycleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != protocol.EventTicketCreated || ev.CorrelationID != "tg:100" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0 after disconnect", hub.ClientCount())
	}
}

func TestFanout(t *testing.T) {
	var a, b countingSink
	f := Fanout{&a, &b}
	f.Publish(protocol.LifecycleEvent{Type: protocol.EventSession})
	if a.n != 1 || b.n != 1 {
		t.Errorf("counts = %d, %d, want 1, 1", a.n, b.n)
	}
}

type countingSink struct{ n int }

func (s *countingSink) Publish(protocol.LifecycleEvent) { s.n++ }

func TestKafkaSinkNoopWithoutBrokers(t *testing.T) {
	s := NewKafkaSink(nil, "", nil)
	s.Publish(protocol.LifecycleEvent{Type: protocol.EventSession})
	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestParseBrokers(t *testing.T) {
	got := ParseBrokers(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("got %v", got)
	}
}
