package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

type chanBus struct {
	ch     chan []byte
	stream []domain.StreamMessage
}

func (b chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b chanBus) StreamRead(_ context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	for i, m := range b.stream {
		if m.ID == lastID {
			return b.stream[i+1:], nil
		}
	}
	return b.stream, nil
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	return dialQuery(t, hub, "")
}

func dialQuery(t *testing.T, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg.Type
}

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, context.Context) {
	t.Helper()
	hub := NewHub(bus, "full", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, ctx
}

func TestHubDeliversAnnouncedEvents(t *testing.T) {
	hub, ctx := startHub(t, nil)
	conn := dial(t, hub)

	if got := readType(t, conn); got != "engine_status" {
		t.Fatalf("first message type = %q", got)
	}
	if err := hub.Announce(ctx, domain.SettlementEvent{Type: domain.EventClaimPaid, MarketID: "m1"}); err != nil {
		t.Fatal(err)
	}
	if got := readType(t, conn); got != domain.EventClaimPaid {
		t.Errorf("event type = %q", got)
	}
}

func TestHubRelaysBusMessages(t *testing.T) {
	bus := chanBus{ch: make(chan []byte, 2)}
	hub, _ := startHub(t, bus)
	conn := dial(t, hub)
	readType(t, conn)

	bus.ch <- []byte("not json")
	bus.ch <- []byte(`{"type":"market_finalized","marketId":"m1"}`)
	if got := readType(t, conn); got != domain.EventMarketFinalized {
		t.Errorf("event type = %q", got)
	}
}

func TestHubReplaysStreamSince(t *testing.T) {
	bus := chanBus{
		ch: make(chan []byte),
		stream: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"type":"market_finalized","marketId":"m1"}`)},
			{ID: "2-0", Payload: []byte(`{"type":"claim_paid","marketId":"m1"}`)},
		},
	}
	hub, _ := startHub(t, bus)
	conn := dialQuery(t, hub, "?since=1-0")

	if got := readType(t, conn); got != "engine_status" {
		t.Fatalf("first message type = %q", got)
	}
	if got := readType(t, conn); got != domain.EventClaimPaid {
		t.Errorf("replayed type = %q, want %q", got, domain.EventClaimPaid)
	}
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{settlementPattern: true}}
	if !c.isSubscribed("settlement:claim_paid") {
		t.Error("pattern subscription did not match")
	}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{settlementPattern}})
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"settlement:tally_mismatch"}})
	if c.isSubscribed("settlement:claim_paid") {
		t.Error("unsubscribed channel still matches")
	}
	if !c.isSubscribed("settlement:tally_mismatch") {
		t.Error("exact subscription did not match")
	}
}
