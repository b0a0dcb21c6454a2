package relaypool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
)

// Subscription is an active REQ on one logical filter, fanned out across
// every relay the pool dials for it. EventChan delivers de-duplicated
// events.
type Subscription struct {
	ID        string
	EventChan chan nostrwire.Event
	Done      chan struct{}

	closeOnce sync.Once
	seen      sync.Map // event id -> struct{}
}

func newSubscription(id string) *Subscription {
	return &Subscription{
		ID:        id,
		EventChan: make(chan nostrwire.Event, 256),
		Done:      make(chan struct{}),
	}
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

func (s *Subscription) deliver(evt nostrwire.Event) {
	if _, dup := s.seen.LoadOrStore(evt.ID, struct{}{}); dup {
		return
	}
	select {
	case s.EventChan <- evt:
	case <-s.Done:
	default:
		// subscriber too slow; drop rather than block the read loop
	}
}

// ackWaiter tracks an in-flight publish's per-relay OK acks.
type ackWaiter struct {
	ch chan bool
}

// relayConn manages one websocket connection with automatic reconnect.
type relayConn struct {
	url    string
	logger *slog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	writeMu       sync.Mutex
	subscriptions map[string]*Subscription
	filters       map[string]nostrwire.Filter
	pendingAcks   map[string]*ackWaiter
	closed        bool
	lastActivity  time.Time

	onConnected    func()
	onDisconnected func()
}

func newRelayConn(url string, logger *slog.Logger) *relayConn {
	return &relayConn{
		url:           url,
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		filters:       make(map[string]nostrwire.Filter),
		pendingAcks:   make(map[string]*ackWaiter),
	}
}

// run dials and redials with backoff until ctx is canceled.
func (rc *relayConn) run(ctx context.Context) {
	backoff := DefaultBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		rc.mu.Lock()
		prevActivity := rc.lastActivity
		rc.mu.Unlock()
		if err := rc.dialAndServe(ctx); err != nil && ctx.Err() == nil {
			rc.logger.Warn("relay connection lost", "relay", rc.url, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		rc.mu.Lock()
		connected := !rc.lastActivity.Equal(prevActivity)
		rc.mu.Unlock()
		if connected {
			backoff.Reset()
		}

		delay := backoff.Next()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (rc *relayConn) dialAndServe(ctx context.Context) error {
	if !isRelayURLSafe(rc.url) {
		return errors.New("relay URL blocked: unsafe destination")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, rc.url, nil)
	if err != nil {
		return err
	}

	rc.mu.Lock()
	rc.conn = conn
	rc.closed = false
	rc.lastActivity = time.Now()
	resubscribe := make(map[string]nostrwire.Filter, len(rc.filters))
	for id, f := range rc.filters {
		resubscribe[id] = f
	}
	rc.mu.Unlock()

	if rc.onConnected != nil {
		rc.onConnected()
	}
	rc.logger.Info("relay connected", "relay", rc.url)

	for id, f := range resubscribe {
		if err := rc.sendREQ(id, f); err != nil {
			rc.logger.Warn("resubscribe failed", "relay", rc.url, "sub", id, "error", err)
		}
	}

	err = rc.readLoop()

	rc.mu.Lock()
	rc.closed = true
	_ = rc.conn.Close()
	rc.mu.Unlock()
	if rc.onDisconnected != nil {
		rc.onDisconnected()
	}
	return err
}

func (rc *relayConn) readLoop() error {
	for {
		var msg []interface{}
		rc.mu.Lock()
		conn := rc.conn
		rc.mu.Unlock()

		err := conn.ReadJSON(&msg)
		if err != nil {
			return err
		}

		rc.mu.Lock()
		rc.lastActivity = time.Now()
		rc.mu.Unlock()

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}
			evt, ok := nostrwire.ParseEventFromInterface(msg[2])
			if !ok {
				continue
			}
			evt.RelayURL = rc.url

			rc.mu.Lock()
			sub := rc.subscriptions[subID]
			rc.mu.Unlock()
			if sub != nil {
				sub.deliver(evt)
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			ok, _ := msg[2].(bool)
			rc.mu.Lock()
			waiter := rc.pendingAcks[eventID]
			rc.mu.Unlock()
			if waiter != nil {
				select {
				case waiter.ch <- ok:
				default:
				}
			}

		case "CLOSED":
			if len(msg) >= 2 {
				subID, _ := msg[1].(string)
				rc.mu.Lock()
				sub := rc.subscriptions[subID]
				delete(rc.subscriptions, subID)
				delete(rc.filters, subID)
				rc.mu.Unlock()
				if sub != nil {
					sub.Close()
				}
			}

		case "NOTICE":
			if len(msg) >= 2 {
				notice, _ := msg[1].(string)
				rc.logger.Info("relay notice", "relay", rc.url, "notice", notice)
			}
		}
	}
}

func (rc *relayConn) sendREQ(subID string, filter nostrwire.Filter) error {
	req := []interface{}{"REQ", subID, filter}
	return rc.writeJSON(req)
}

func (rc *relayConn) writeJSON(v interface{}) error {
	rc.mu.Lock()
	conn := rc.conn
	closed := rc.closed
	rc.mu.Unlock()
	if closed || conn == nil {
		return errors.New("relaypool: connection not established")
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteJSON(v)
}

// publish writes an EVENT message and waits up to timeout for this
// relay's OK ack.
func (rc *relayConn) publish(ctx context.Context, evt *nostrwire.Event, timeout time.Duration) (bool, error) {
	waiter := &ackWaiter{ch: make(chan bool, 1)}
	rc.mu.Lock()
	rc.pendingAcks[evt.ID] = waiter
	rc.mu.Unlock()
	defer func() {
		rc.mu.Lock()
		delete(rc.pendingAcks, evt.ID)
		rc.mu.Unlock()
	}()

	if err := rc.writeJSON([]interface{}{"EVENT", evt}); err != nil {
		return false, err
	}

	select {
	case ok := <-waiter.ch:
		return ok, nil
	case <-time.After(timeout):
		return false, errors.New("relaypool: publish ack timeout")
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
