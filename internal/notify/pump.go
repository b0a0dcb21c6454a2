// Package notify implements the Notification Pump: it watches node
// payment events and fans out an encrypted kind-23196 event to every
// eligible connection, following the same publish path the dispatcher
// uses for request responses but with no triggering request event.
package notify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrcrypto"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
	"github.com/nip47bridge/cln-nwc-bridge/internal/store"
)

const notificationKind = 23196

// Publisher is the relaypool.Pool subset the pump needs.
type Publisher interface {
	Publish(ctx context.Context, evt *nostrwire.Event, relayURLs []string) error
}

// ConnectionLister is the store.Store subset the pump needs; kept as its
// own interface so this package never imports internal/dispatcher.
type ConnectionLister interface {
	List(filter string) []*store.Connection
}

// Pump subscribes to the node's incoming/outgoing payment events and
// fans out payment_received/payment_sent notifications. Disabled
// entirely when notificationsEnabled is false, matching the
// nip47-notifications plugin option.
type Pump struct {
	store     ConnectionLister
	node      node.NodeClient
	publisher Publisher
	enabled   bool
	logger    *slog.Logger
}

// NewPump constructs a Pump. Call Run to start consuming node events;
// Run returns once ctx is canceled.
func NewPump(st ConnectionLister, nc node.NodeClient, publisher Publisher, enabled bool, logger *slog.Logger) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{store: st, node: nc, publisher: publisher, enabled: enabled, logger: logger}
}

// Run blocks, consuming SubscribeInvoicePaid and SubscribeSentPayments
// until ctx is canceled. It is a no-op (but still blocks until
// cancellation) when the pump is disabled, so callers can launch it
// unconditionally in a goroutine.
func (p *Pump) Run(ctx context.Context) error {
	if !p.enabled {
		<-ctx.Done()
		return nil
	}

	paid, err := p.node.SubscribeInvoicePaid(ctx)
	if err != nil {
		return fmt.Errorf("notify: subscribing to invoice_payment: %w", err)
	}
	sent, err := p.node.SubscribeSentPayments(ctx)
	if err != nil {
		return fmt.Errorf("notify: subscribing to sendpay_success: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case inv, ok := <-paid:
			if !ok {
				paid = nil
				continue
			}
			p.fanOutReceived(ctx, inv)
		case pay, ok := <-sent:
			if !ok {
				sent = nil
				continue
			}
			p.fanOutSent(ctx, pay)
		}
	}
}

// payload is the kind-23196 content body, matching the two
// notification_type shapes: payment_received for invoice_payment,
// payment_sent for sendpay_success.
type payload struct {
	NotificationType string `json:"notification_type"`
	Notification     body   `json:"notification"`
}

type body struct {
	Type            string                 `json:"type"` // "incoming" or "outgoing"
	Invoice         string                 `json:"invoice,omitempty"`
	Description     string                 `json:"description,omitempty"`
	DescriptionHash string                 `json:"description_hash,omitempty"`
	Preimage        string                 `json:"preimage,omitempty"`
	PaymentHash     string                 `json:"payment_hash"`
	Amount          uint64                 `json:"amount"`
	FeesPaid        uint64                 `json:"fees_paid"`
	CreatedAt       int64                  `json:"created_at"`
	SettledAt       int64                  `json:"settled_at,omitempty"`
	ExpiresAt       int64                  `json:"expires_at,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

func receivedPayload(inv node.Invoice) payload {
	b := body{
		Type:            "incoming",
		Invoice:         inv.Bolt11,
		Description:     inv.Description,
		DescriptionHash: inv.DescriptionHash,
		Preimage:        inv.Preimage,
		PaymentHash:     inv.PaymentHash,
		Amount:          inv.AmountPaidMsat,
		CreatedAt:       inv.CreatedAt.Unix(),
	}
	if b.Amount == 0 {
		b.Amount = inv.AmountMsat
	}
	if !inv.PaidAt.IsZero() {
		b.SettledAt = inv.PaidAt.Unix()
	}
	if !inv.ExpiresAt.IsZero() {
		b.ExpiresAt = inv.ExpiresAt.Unix()
	}
	// Fill metadata from the invoice description when no description_hash
	// was used, matching pay_invoice's own amount-description pairing.
	if inv.DescriptionHash == "" && inv.Description != "" {
		b.Metadata = map[string]interface{}{"description": inv.Description}
	}
	return payload{NotificationType: "payment_received", Notification: b}
}

func sentPayload(pay node.OutgoingPayment) payload {
	b := body{
		Type:        "outgoing",
		Invoice:     pay.Bolt11,
		Preimage:    pay.Preimage,
		PaymentHash: pay.PaymentHash,
		Amount:      pay.AmountMsat,
		FeesPaid:    pay.FeeMsat,
		CreatedAt:   pay.CreatedAt.Unix(),
		SettledAt:   pay.CreatedAt.Unix(),
	}
	return payload{NotificationType: "payment_sent", Notification: b}
}

func (p *Pump) fanOutReceived(ctx context.Context, inv node.Invoice) {
	p.fanOut(ctx, receivedPayload(inv))
}

func (p *Pump) fanOutSent(ctx context.Context, pay node.OutgoingPayment) {
	p.fanOut(ctx, sentPayload(pay))
}

func (p *Pump) fanOut(ctx context.Context, pl payload) {
	body, err := json.Marshal(pl)
	if err != nil {
		p.logger.Error("marshaling notification payload", "error", err)
		return
	}

	for _, conn := range p.store.List("") {
		if conn.Revoked {
			continue
		}
		evt, err := buildNotificationEvent(conn, string(body))
		if err != nil {
			p.logger.Error("building notification event", "conn", conn.Name, "error", err)
			continue
		}
		if err := p.publisher.Publish(ctx, evt, conn.Relays); err != nil {
			p.logger.Error("publishing notification failed", "conn", conn.Name, "error", err)
		}
	}
}

// buildNotificationEvent encrypts content with NIP-04 by default,
// upgrading to NIP-44 only once this connection has proven it
// understands it (conn.Nip44Capable), matching both sides needing to
// advertise the scheme before it is used outside a request/response
// round trip.
func buildNotificationEvent(conn *store.Connection, content string) (*nostrwire.Event, error) {
	walletSecret, err := hex.DecodeString(conn.WalletSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding wallet secret: %w", err)
	}
	clientPubKey, err := hex.DecodeString(conn.ClientPubKey)
	if err != nil {
		return nil, fmt.Errorf("decoding client pubkey: %w", err)
	}

	var encrypted string
	useNip44 := conn.Nip44Capable
	if useNip44 {
		convKey, ckErr := nostrcrypto.ConversationKey(walletSecret, clientPubKey)
		if ckErr != nil {
			useNip44 = false
		} else {
			encrypted, err = nostrcrypto.Nip44Encrypt(content, convKey)
			if err != nil {
				return nil, fmt.Errorf("nip44 encrypting: %w", err)
			}
		}
	}
	if !useNip44 {
		shared, ssErr := nostrcrypto.Nip04SharedSecret(walletSecret, clientPubKey)
		if ssErr != nil {
			return nil, fmt.Errorf("deriving nip04 shared secret: %w", ssErr)
		}
		encrypted, err = nostrcrypto.Nip04Encrypt(content, shared)
		if err != nil {
			return nil, fmt.Errorf("nip04 encrypting: %w", err)
		}
	}

	tags := [][]string{{"p", conn.ClientPubKey}}
	if useNip44 {
		tags = append(tags, []string{"encryption", "nip44_v2"})
	}

	evt := &nostrwire.Event{
		PubKey:  conn.WalletPubKey,
		Kind:    notificationKind,
		Tags:    tags,
		Content: encrypted,
	}
	if err := nostrcrypto.SignAndStamp(evt, walletSecret); err != nil {
		return nil, fmt.Errorf("signing notification event: %w", err)
	}
	return evt, nil
}
