// Package relaypool multiplexes subscribe/publish traffic across the set
// of relay URLs a connection is configured with, reconnecting each relay
// independently with exponential backoff and de-duplicating events that
// arrive from more than one relay for the same logical subscription.
package relaypool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
)

// PublishAckTimeout is how long Publish waits for each relay's OK before
// considering that relay failed.
const PublishAckTimeout = 10 * time.Second

// Pool owns one relayConn per distinct relay URL and the logical
// Subscriptions layered across them.
type Pool struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*relayConn
	subs  map[string]*Subscription // subID -> subscription

	connectedGauge func(relayURL string, connected bool)
	reconnectCount func(relayURL string)
}

// Option configures optional metrics hooks.
type Option func(*Pool)

// WithConnectedGauge registers a callback invoked whenever a relay's
// connection state changes, for internal/metrics's nip47_relay_connected
// gauge.
func WithConnectedGauge(f func(relayURL string, connected bool)) Option {
	return func(p *Pool) { p.connectedGauge = f }
}

// WithReconnectCounter registers a callback invoked each time a relay
// connects again after its first successful connection, for
// internal/metrics's nip47_relay_reconnects_total counter.
func WithReconnectCounter(f func(relayURL string)) Option {
	return func(p *Pool) { p.reconnectCount = f }
}

// New constructs an empty Pool. Call EnsureRelay for each relay URL a
// connection needs before Subscribe/Publish.
func New(logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger: logger,
		conns:  make(map[string]*relayConn),
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureRelay starts a reconnecting connection to relayURL if one does not
// already exist, and returns once it has been registered (dialing happens
// asynchronously in the background).
func (p *Pool) EnsureRelay(ctx context.Context, relayURL string) {
	p.mu.Lock()
	if _, ok := p.conns[relayURL]; ok {
		p.mu.Unlock()
		return
	}
	rc := newRelayConn(relayURL, p.logger)
	firstConnect := true
	rc.onConnected = func() {
		if p.connectedGauge != nil {
			p.connectedGauge(relayURL, true)
		}
		if !firstConnect && p.reconnectCount != nil {
			p.reconnectCount(relayURL)
		}
		firstConnect = false
	}
	rc.onDisconnected = func() {
		if p.connectedGauge != nil {
			p.connectedGauge(relayURL, false)
		}
	}
	p.conns[relayURL] = rc
	p.mu.Unlock()

	go rc.run(ctx)
}

// Subscribe opens a logical subscription across every relay in relayURLs,
// creating connections as needed. Events with the same id from different
// relays are delivered once.
func (p *Pool) Subscribe(ctx context.Context, subID string, relayURLs []string, filter nostrwire.Filter) (*Subscription, error) {
	if len(relayURLs) == 0 {
		return nil, fmt.Errorf("relaypool: Subscribe requires at least one relay")
	}

	sub := newSubscription(subID)
	p.mu.Lock()
	p.subs[subID] = sub
	p.mu.Unlock()

	for _, url := range relayURLs {
		p.EnsureRelay(ctx, url)

		p.mu.RLock()
		rc := p.conns[url]
		p.mu.RUnlock()

		rc.mu.Lock()
		rc.subscriptions[subID] = sub
		rc.filters[subID] = filter
		connected := !rc.closed && rc.conn != nil
		rc.mu.Unlock()

		if connected {
			if err := rc.sendREQ(subID, filter); err != nil {
				p.logger.Warn("subscribe REQ failed", "relay", url, "sub", subID, "error", err)
			}
		}
	}

	return sub, nil
}

// Unsubscribe sends CLOSE to every relay carrying subID and releases the
// logical subscription.
func (p *Pool) Unsubscribe(subID string) {
	p.mu.Lock()
	sub, ok := p.subs[subID]
	delete(p.subs, subID)
	conns := make([]*relayConn, 0, len(p.conns))
	for _, rc := range p.conns {
		conns = append(conns, rc)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	for _, rc := range conns {
		rc.mu.Lock()
		_, has := rc.subscriptions[subID]
		if has {
			delete(rc.subscriptions, subID)
			delete(rc.filters, subID)
		}
		rc.mu.Unlock()
		if has {
			_ = rc.writeJSON([]interface{}{"CLOSE", subID})
		}
	}
	sub.Close()
}

// Publish fans an event out to relayURLs and returns success once at
// least one relay acks OK=true within PublishAckTimeout.
func (p *Pool) Publish(ctx context.Context, evt *nostrwire.Event, relayURLs []string) error {
	if len(relayURLs) == 0 {
		return fmt.Errorf("relaypool: Publish requires at least one relay")
	}

	type result struct {
		url string
		ok  bool
		err error
	}
	results := make(chan result, len(relayURLs))

	for _, url := range relayURLs {
		p.EnsureRelay(ctx, url)
		p.mu.RLock()
		rc := p.conns[url]
		p.mu.RUnlock()

		go func(url string, rc *relayConn) {
			ok, err := rc.publish(ctx, evt, PublishAckTimeout)
			results <- result{url: url, ok: ok, err: err}
		}(url, rc)
	}

	var lastErr error
	for i := 0; i < len(relayURLs); i++ {
		r := <-results
		if r.err != nil {
			lastErr = r.err
			p.logger.Warn("publish failed", "relay", r.url, "event_id", evt.ID, "error", r.err)
			continue
		}
		if r.ok {
			return nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("relaypool: no relay acknowledged event %s", evt.ID)
	}
	return lastErr
}

// Close tears down every managed connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rc := range p.conns {
		rc.mu.Lock()
		if rc.conn != nil {
			_ = rc.conn.Close()
		}
		rc.closed = true
		rc.mu.Unlock()
	}
}
