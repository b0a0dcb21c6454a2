package relaypool

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
)

// testRelay is a minimal in-process relay: it echoes OK=true for every
// published event and pushes a single canned event to any REQ it
// receives.
type testRelay struct {
	upgrader websocket.Upgrader
	server   *httptest.Server
	url      string
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	tr := &testRelay{}
	tr.server = httptest.NewServer(http.HandlerFunc(tr.handle))
	tr.url = "ws" + strings.TrimPrefix(tr.server.URL, "http")
	t.Cleanup(tr.server.Close)
	return tr
}

func (tr *testRelay) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := tr.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg) < 2 {
			continue
		}
		msgType, _ := msg[0].(string)
		switch msgType {
		case "EVENT":
			raw, ok := msg[1].(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := raw["id"].(string)
			_ = conn.WriteJSON([]interface{}{"OK", id, true, ""})
		case "REQ":
			subID, _ := msg[1].(string)
			evt := nostrwire.Event{
				ID:        "canned-event-id",
				PubKey:    "canned-pubkey",
				CreatedAt: 1700000000,
				Kind:      23194,
				Tags:      [][]string{},
				Content:   "hello",
				Sig:       "canned-sig",
			}
			_ = conn.WriteJSON([]interface{}{"EVENT", subID, evt})
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSubscribeDeliversEventFromRelay(t *testing.T) {
	relay := newTestRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := New(discardLogger())
	defer pool.Close()

	sub, err := pool.Subscribe(ctx, "sub-1", []string{relay.url}, nostrwire.Filter{Kinds: []int{23194}})
	require.NoError(t, err)

	select {
	case evt := <-sub.EventChan:
		assert.Equal(t, "canned-event-id", evt.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for relay event")
	}
}

func TestPublishSucceedsWhenOneRelayAcks(t *testing.T) {
	relay := newTestRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := New(discardLogger())
	defer pool.Close()

	// Give the connection a moment to establish before publishing.
	pool.EnsureRelay(ctx, relay.url)
	time.Sleep(200 * time.Millisecond)

	evt := &nostrwire.Event{ID: "evt-1", PubKey: "pub", Kind: 23195, Tags: [][]string{}, Content: "x", Sig: "sig"}
	err := pool.Publish(ctx, evt, []string{relay.url})
	assert.NoError(t, err)
}

func TestPublishFailsWhenNoRelayReachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := New(discardLogger())
	defer pool.Close()

	evt := &nostrwire.Event{ID: "evt-2", Kind: 23195, Tags: [][]string{}}
	err := pool.Publish(ctx, evt, []string{"ws://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestBackoffDoublesUntilCap(t *testing.T) {
	b := &Backoff{Base: time.Second, Multiplier: 2, Cap: 10 * time.Second, Jitter: 0}
	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next(), b.Next()}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	assert.Equal(t, want, got)
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	b := &Backoff{Base: time.Second, Multiplier: 2, Cap: 10 * time.Second, Jitter: 0}
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestIsRelayURLSafeRejectsNonWebsocketScheme(t *testing.T) {
	assert.False(t, isRelayURLSafe("http://example.com"))
	assert.True(t, isRelayURLSafe("wss://relay.damus.io"))
	assert.True(t, isRelayURLSafe("ws://localhost:7000"))
}
