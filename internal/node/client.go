// Package node declares the Lightning-node RPC surface this bridge
// depends on. In production a NodeClient is backed by the CLN plugin's
// JSON-RPC connection to lightningd; that wiring lives outside this
// repository's scope. Everything here is an interface plus an in-memory
// fake so the rest of the module is runnable and testable without a
// real node.
package node

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups (invoice, offer, datastore key) that
// find nothing.
var ErrNotFound = errors.New("node: not found")

// Invoice mirrors the subset of CLN's invoice/listinvoices fields the
// bridge needs.
type Invoice struct {
	Label           string
	Bolt11          string
	PaymentHash     string
	Preimage        string // empty until paid
	AmountMsat      uint64 // requested amount, 0 for any-amount
	AmountPaidMsat  uint64
	Description     string
	DescriptionHash string
	Status          string // "unpaid", "paid", "expired"
	CreatedAt       time.Time
	PaidAt          time.Time
	ExpiresAt       time.Time
}

// OutgoingPayment mirrors the subset of CLN's pay/listpays fields the
// bridge needs.
type OutgoingPayment struct {
	PaymentHash    string
	Preimage       string
	Bolt11         string
	Destination    string
	AmountMsat     uint64
	AmountSentMsat uint64
	Status         string // "pending", "complete", "failed"
	CreatedAt      time.Time
	FeeMsat        uint64
}

// Offer mirrors the subset of CLN's offer/decode fields the bridge
// needs for BOLT12.
type Offer struct {
	OfferID     string
	Bolt12      string
	Description string
	AmountMsat  uint64 // 0 if the offer leaves amount to the payer
	Issuer      string
	Absolute    bool // single-use offer
}

// NodeInfo mirrors CLN's getinfo result.
type NodeInfo struct {
	PubKey      string
	Alias       string
	Color       string
	Network     string // "bitcoin", "testnet", "signet", "regtest"
	Version     string
	BlockHeight int64
}

// KeySendParams carries a spontaneous payment request through to the
// node untouched; the bridge never interprets TLVRecords.
type KeySendParams struct {
	Destination string
	AmountMsat  uint64
	TLVRecords  map[uint64][]byte
}

// NodeClient is the collaborator interface this bridge drives. It is the
// entire surface of "the node" as seen by the dispatcher and handlers;
// the plugin-host wiring that turns this into real JSON-RPC calls against
// lightningd is an out-of-scope external framework.
type NodeClient interface {
	GetInfo(ctx context.Context) (NodeInfo, error)

	// SpendableBalance sums the spendable balance across active channels,
	// mirroring CLN's listfunds. Used by get_balance for Unlimited-budget
	// connections, which have no ledger cap to report against.
	SpendableBalance(ctx context.Context) (uint64, error)

	MakeInvoice(ctx context.Context, label string, amountMsat uint64, description string, descriptionHash string, expiry time.Duration) (Invoice, error)
	LookupInvoice(ctx context.Context, paymentHash string) (Invoice, error)
	ListInvoices(ctx context.Context) ([]Invoice, error)

	PayInvoice(ctx context.Context, bolt11 string, amountMsat uint64) (OutgoingPayment, error)
	KeySend(ctx context.Context, params KeySendParams) (OutgoingPayment, error)
	ListPays(ctx context.Context) ([]OutgoingPayment, error)

	MakeOffer(ctx context.Context, amountMsat uint64, description string, singleUse bool) (Offer, error)
	LookupOffer(ctx context.Context, offerID string) (Offer, error)
	DecodeOffer(ctx context.Context, bolt12 string) (Offer, error)
	PayOffer(ctx context.Context, bolt12 string, amountMsat uint64) (OutgoingPayment, error)

	// Datastore mirrors CLN's datastore/listdatastore/deldatastore RPCs
	// and backs internal/store's KVStore for the in-plugin deployment.
	DatastoreSet(ctx context.Context, key []string, value []byte) error
	DatastoreGet(ctx context.Context, key []string) ([]byte, error)
	DatastoreList(ctx context.Context, prefix []string) (map[string][]byte, error)
	DatastoreDelete(ctx context.Context, key []string) error

	// SubscribeInvoicePaid delivers a notification every time an invoice
	// created by MakeInvoice transitions to paid, mirroring CLN's
	// `invoice_payment` plugin hook. The returned channel is closed when
	// ctx is canceled.
	SubscribeInvoicePaid(ctx context.Context) (<-chan Invoice, error)

	// SubscribeSentPayments delivers a notification every time an
	// outgoing payment (PayInvoice, KeySend, or PayOffer) completes
	// successfully, mirroring CLN's `sendpay_success` plugin hook. The
	// returned channel is closed when ctx is canceled.
	SubscribeSentPayments(ctx context.Context) (<-chan OutgoingPayment, error)
}
