// Package infoevent owns the kind-13194 capability-advertisement
// lifecycle: building the event from a connection's live ledger state,
// tracking its content fingerprint, and republishing only when that
// fingerprint changes.
package infoevent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrcrypto"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
)

const infoKind = 13194

// Publisher is the dispatcher.Publisher subset infoevent needs; it keeps
// this package decoupled from internal/dispatcher.
type Publisher interface {
	Publish(ctx context.Context, evt *nostrwire.Event, relayURLs []string) error
}

// state is the last-published fingerprint for one connection, per the
// "Info Event State" record: last event id and content fingerprint
// (methods-list, encryption-list, notifications-list).
type state struct {
	lastEventID   string
	fingerprint   string
}

// Tracker republishes a connection's kind-13194 event whenever its
// eligible-method list changes, and is a no-op otherwise.
type Tracker struct {
	mu                   sync.Mutex
	published            map[string]state
	notificationsEnabled bool
	publisher            Publisher
	logger               *slog.Logger
}

// NewTracker constructs a Tracker. notificationsEnabled mirrors the
// nip47-notifications plugin option and is baked into both the content
// fingerprint and the notifications tag.
func NewTracker(publisher Publisher, notificationsEnabled bool, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		published:            make(map[string]state),
		notificationsEnabled: notificationsEnabled,
		publisher:             publisher,
		logger:               logger,
	}
}

func fingerprint(methods []string, notificationsEnabled bool) string {
	notif := ""
	if notificationsEnabled {
		notif = "payment_received payment_sent"
	}
	return strings.Join(methods, " ") + "|nip44_v2 nip04|" + notif
}

// EnsurePublished builds the info event for connName from its current
// eligible methods and publishes it if the fingerprint differs from the
// last one this Tracker published for connName. Callers invoke this on
// connection create, on any budget change, and once per connection at
// plugin startup.
func (t *Tracker) EnsurePublished(ctx context.Context, connName, walletPubKeyHex string, walletSecret []byte, relays []string, entry *ledger.Entry) error {
	methods := entry.EligibleMethods()
	fp := fingerprint(methods, t.notificationsEnabled)

	t.mu.Lock()
	prev, ok := t.published[connName]
	if ok && prev.fingerprint == fp {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	evt := &nostrwire.Event{
		PubKey:    walletPubKeyHex,
		CreatedAt: time.Now().Unix(),
		Kind:      infoKind,
		Content:   strings.Join(methods, " "),
		Tags: [][]string{
			{"encryption", "nip44_v2 nip04"},
		},
	}
	if t.notificationsEnabled {
		evt.Tags = append(evt.Tags, []string{"notifications", "payment_received payment_sent"})
	}
	if err := nostrcrypto.SignAndStamp(evt, walletSecret); err != nil {
		return fmt.Errorf("infoevent: signing kind-13194 event: %w", err)
	}

	if err := t.publisher.Publish(ctx, evt, relays); err != nil {
		return fmt.Errorf("infoevent: publishing: %w", err)
	}

	t.mu.Lock()
	t.published[connName] = state{lastEventID: evt.ID, fingerprint: fp}
	t.mu.Unlock()

	t.logger.Info("info event published", "conn", connName, "event_id", evt.ID, "methods", methods)
	return nil
}

// Forget drops a revoked connection's tracked fingerprint so a future
// connection reusing (hypothetically) the same name starts fresh. Names
// are never recycled, but this keeps the map from growing unbounded
// across the lifetime of a long-running daemon handling many revokes.
func (t *Tracker) Forget(connName string) {
	t.mu.Lock()
	delete(t.published, connName)
	t.mu.Unlock()
}

