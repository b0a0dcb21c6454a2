package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
)

// defaultRateInterval and defaultBurst set the per-connection rate gate:
// 1 req/250ms with a burst of 5.
const (
	defaultRateInterval = 250 * time.Millisecond
	defaultBurst        = 5
)

// actorMsg is one mailbox item: an inbound request event to process.
type actorMsg struct {
	evt     *nostrwire.Event
	traceID string
}

// Actor is the single goroutine serializing all work for one connection,
// following nwc.go's NWCClient single-goroutine readLoop pattern,
// generalized to one inbound mailbox instead of one channel
// per outstanding call.
type Actor struct {
	connName string
	mailbox  chan actorMsg
	limiter  *rate.Limiter
	disp     *Dispatcher
	logger   *slog.Logger

	cancel context.CancelFunc
}

func newActor(connName string, disp *Dispatcher, logger *slog.Logger) *Actor {
	return &Actor{
		connName: connName,
		mailbox:  make(chan actorMsg, 64),
		limiter:  rate.NewLimiter(rate.Every(defaultRateInterval), defaultBurst),
		disp:     disp,
		logger:   logger,
	}
}

// Start launches the actor's processing loop; it runs until ctx is
// canceled or Stop is called.
func (a *Actor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.loop(ctx)
}

func (a *Actor) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// Enqueue delivers evt to the actor's mailbox, blocking only if the
// mailbox is full.
func (a *Actor) Enqueue(ctx context.Context, evt *nostrwire.Event) {
	msg := actorMsg{evt: evt, traceID: uuid.NewString()}
	select {
	case a.mailbox <- msg:
	case <-ctx.Done():
	}
}

func (a *Actor) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.mailbox:
			a.process(ctx, msg)
		}
	}
}

func (a *Actor) process(ctx context.Context, msg actorMsg) {
	logger := a.logger.With("conn", a.connName, "event_id", msg.evt.ID, "trace_id", msg.traceID)

	if !a.limiter.Allow() {
		logger.Warn("rate limited")
		a.disp.emitError(ctx, a.connName, msg.evt, &NWCError{
			Code:    ErrRateLimited,
			Message: "too many requests, slow down",
		})
		return
	}

	a.disp.handleRequestEvent(ctx, a.connName, msg.evt, logger)
}
