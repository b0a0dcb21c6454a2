package dispatcher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nip47bridge/cln-nwc-bridge/internal/idempotency"
	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrcrypto"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
	"github.com/nip47bridge/cln-nwc-bridge/internal/store"
)

const requestKind = 23194

// Publisher is the minimal relaypool.Pool surface the dispatcher needs,
// named as an interface so dispatcher tests don't require real relay
// connections.
type Publisher interface {
	Publish(ctx context.Context, evt *nostrwire.Event, relayURLs []string) error
}

// Dispatcher owns the per-connection Actors and routes decrypted,
// idempotency-checked requests to the registered handlers. Follows
// nwc.go's handleEvent/sendPayInvoiceRequest request/response shape,
// inverted from client-initiates to wallet-receives.
type Dispatcher struct {
	store     *store.Store
	node      node.NodeClient
	publisher Publisher
	registry  Registry
	cache     *idempotency.Cache
	group     singleflight.Group
	logger    *slog.Logger

	notificationsEnabled bool

	mu     sync.Mutex
	actors map[string]*Actor
}

// New constructs a Dispatcher. registry is built by internal/handlers and
// injected here to avoid a handlers->dispatcher->handlers import cycle.
// notificationsEnabled controls get_info's advertised notification list
// and gates internal/notify's pump.
func New(st *store.Store, nodeClient node.NodeClient, publisher Publisher, registry Registry, cache *idempotency.Cache, logger *slog.Logger, notificationsEnabled bool) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:                st,
		node:                 nodeClient,
		publisher:            publisher,
		registry:             registry,
		cache:                cache,
		logger:               logger,
		notificationsEnabled: notificationsEnabled,
		actors:               make(map[string]*Actor),
	}
}

// StartActor spins up (or returns the existing) Actor for a connection.
func (d *Dispatcher) StartActor(ctx context.Context, connName string) *Actor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.actors[connName]; ok {
		return a
	}
	a := newActor(connName, d, d.logger)
	a.Start(ctx)
	d.actors[connName] = a
	return a
}

// StopActor tears down a connection's actor, e.g. on revoke.
func (d *Dispatcher) StopActor(connName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.actors[connName]; ok {
		a.Stop()
		delete(d.actors, connName)
	}
}

// HandleInboundEvent is the Relay Pool's entry point for a freshly
// received kind-23194 event: it resolves which connection it belongs to
// and enqueues it on that connection's actor.
func (d *Dispatcher) HandleInboundEvent(ctx context.Context, evt nostrwire.Event) {
	if evt.Kind != requestKind {
		return
	}

	conn, _, ok := d.store.GetByClientPubKey(evt.PubKey)
	if !ok {
		d.logger.Debug("inbound event from unknown client pubkey", "pubkey", evt.PubKey)
		return
	}

	actor := d.StartActor(ctx, conn.Name)
	actor.Enqueue(ctx, &evt)
}

// handleRequestEvent performs decrypt, parse, idempotency, eligibility,
// dispatch, and response emission for one event, fully serialized within
// the owning connection's actor goroutine.
func (d *Dispatcher) handleRequestEvent(ctx context.Context, connName string, evt *nostrwire.Event, logger *slog.Logger) {
	conn, entry, ok := d.store.Get(connName)
	if !ok || conn.Revoked {
		logger.Warn("event for unknown or revoked connection")
		return
	}

	if respID, cached := d.cache.Lookup(evt.ID); cached {
		logger.Debug("duplicate request, cached response already sent", "response_event_id", respID)
		return
	}

	// Coalesce concurrent duplicate deliveries of the same event id
	// (e.g. relay retransmission before the cache is populated), using
	// the same group.Do(key, func) shape as singleflight.go.
	_, err, _ := d.group.Do(evt.ID, func() (interface{}, error) {
		respEvt, derr := d.process(ctx, conn, entry, evt, logger)
		if derr != nil {
			return nil, derr
		}
		if respEvt != nil {
			d.cache.Store(evt.ID, respEvt.ID)
			if perr := d.publisher.Publish(ctx, respEvt, conn.Relays); perr != nil {
				logger.Error("publishing response failed", "error", perr)
			}
		}
		return nil, nil
	})
	if err != nil {
		logger.Error("request processing failed", "error", err)
	}
}

func (d *Dispatcher) process(ctx context.Context, conn *store.Connection, entry *ledger.Entry, evt *nostrwire.Event, logger *slog.Logger) (*nostrwire.Event, error) {
	walletSecret, err := hex.DecodeString(conn.WalletSecret)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: decoding wallet secret: %w", err)
	}
	clientPubKey, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: decoding client pubkey: %w", err)
	}

	plaintext, scheme, err := decryptRequest(evt.Content, walletSecret, clientPubKey)
	if err != nil {
		logger.Warn("decrypt failed, dropping event", "error", err)
		return nil, nil
	}
	if scheme == SchemeNip44 && !conn.Nip44Capable {
		if merr := d.store.MarkNip44Capable(conn.Name); merr != nil {
			logger.Warn("recording nip44 capability failed", "error", merr)
		}
	}

	var req Request
	if err := json.Unmarshal([]byte(plaintext), &req); err != nil {
		return d.emitResponse(ctx, conn, evt, scheme, errorResponse(&NWCError{
			Code:    ErrOther,
			Message: "malformed request body",
		}))
	}

	handler, ok := d.registry[req.Method]
	if !ok {
		return d.emitResponse(ctx, conn, evt, scheme, errorResponse(&NWCError{
			Code:    ErrNotImplemented,
			Message: fmt.Sprintf("method %q is not implemented", req.Method),
		}))
	}

	if !entry.IsEligible(req.Method) {
		return d.emitResponse(ctx, conn, evt, scheme, errorResponse(&NWCError{
			Code:    ErrRestricted,
			Message: fmt.Sprintf("method %q is not permitted for this connection's budget", req.Method),
		}))
	}

	hc := &HandlerContext{Conn: conn, Ledger: entry, Node: d.node, NotificationsEnabled: d.notificationsEnabled}
	hc.Emit = func(dTag string, resultType string, result interface{}, subErr *NWCError) {
		var resp Response
		if subErr != nil {
			resp = errorResponse(subErr)
		} else {
			r, merr := resultResponse(resultType, result)
			if merr != nil {
				logger.Error("marshaling sub-response", "error", merr, "d", dTag)
				return
			}
			resp = r
		}
		walletSecret, werr := hex.DecodeString(conn.WalletSecret)
		if werr != nil {
			logger.Error("decoding wallet secret for sub-response", "error", werr, "d", dTag)
			return
		}
		respEvt, berr := buildTaggedResponseEvent(evt, resp, scheme, walletSecret, dTag)
		if berr != nil {
			logger.Error("building sub-response", "error", berr, "d", dTag)
			return
		}
		d.cache.StoreAppend(evt.ID, respEvt.ID)
		if perr := d.publisher.Publish(ctx, respEvt, conn.Relays); perr != nil {
			logger.Error("publishing sub-response failed", "error", perr, "d", dTag)
		}
	}

	resultType, result, nerr := handler(ctx, hc, req.Params)
	if resultType == "" && result == nil && nerr == nil {
		// Multi-response handler already emitted and cached every
		// sub-response via hc.Emit; nothing more to publish.
		return nil, nil
	}
	if nerr != nil {
		return d.emitResponse(ctx, conn, evt, scheme, errorResponse(nerr))
	}

	resp, err := resultResponse(resultType, result)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: marshaling result: %w", err)
	}
	return d.emitResponse(ctx, conn, evt, scheme, resp)
}

func (d *Dispatcher) emitResponse(ctx context.Context, conn *store.Connection, reqEvt *nostrwire.Event, scheme Scheme, resp Response) (*nostrwire.Event, error) {
	walletSecret, err := hex.DecodeString(conn.WalletSecret)
	if err != nil {
		return nil, err
	}
	return buildResponseEvent(reqEvt, resp, scheme, walletSecret)
}

// emitError is used by the Actor for a rejection that happens before the
// request is decrypted (e.g. rate limiting), so it looks the connection up
// and derives the encryption scheme itself rather than accepting a
// pre-decrypted one.
func (d *Dispatcher) emitError(ctx context.Context, connName string, evt *nostrwire.Event, nerr *NWCError) {
	conn, _, ok := d.store.Get(connName)
	if !ok {
		return
	}
	walletSecret, err := hex.DecodeString(conn.WalletSecret)
	if err != nil {
		d.logger.Error("decoding wallet secret for error response", "error", err)
		return
	}
	clientPubKey, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return
	}

	// We haven't successfully decrypted the request (or chose not to, as
	// with rate limiting), so use NIP-44 whenever a conversation key can be
	// derived for this key pair and NIP-04 otherwise. The connection's
	// Nip44Capable latch is not consulted here.
	_, convErr := nostrcrypto.ConversationKey(walletSecret, clientPubKey)
	scheme := SchemeNip04
	if convErr == nil {
		scheme = SchemeNip44
	}

	respEvt, err := buildResponseEvent(evt, errorResponse(nerr), scheme, walletSecret)
	if err != nil {
		d.logger.Error("building error response", "error", err)
		return
	}
	if err := d.publisher.Publish(ctx, respEvt, conn.Relays); err != nil {
		d.logger.Error("publishing error response", "error", err)
	}
}
