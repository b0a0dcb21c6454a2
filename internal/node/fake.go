package node

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory NodeClient used by handler/dispatcher/notify tests
// and by the standalone dev daemon. It has no RPC surface: it
// is plain Go state behind a mutex, in the same style as this repository's
// own test fixtures build literal structs rather than reach for a mocking
// framework.
type Fake struct {
	mu sync.Mutex

	info NodeInfo

	invoicesByHash map[string]*Invoice
	offersByID     map[string]*Offer
	pays           []OutgoingPayment
	datastore      map[string][]byte

	paidSubs []chan Invoice
	sentSubs []chan OutgoingPayment

	// NextPayFails, if set, makes the next PayInvoice/PayOffer/KeySend
	// call return this error instead of succeeding. Consumed once.
	NextPayFails error

	// SpendableMsat backs SpendableBalance; defaults to a generous fake
	// channel balance so Unlimited-budget test connections never starve.
	SpendableMsat uint64
}

// NewFake constructs a Fake seeded with a node identity.
func NewFake(pubKey, alias, network string) *Fake {
	return &Fake{
		info: NodeInfo{
			PubKey:      pubKey,
			Alias:       alias,
			Color:       "1a1a2e",
			Network:     network,
			Version:     "24.11-fake",
			BlockHeight: 800000,
		},
		invoicesByHash: make(map[string]*Invoice),
		offersByID:     make(map[string]*Offer),
		datastore:      make(map[string][]byte),
		SpendableMsat:  100_000_000_000,
	}
}

func (f *Fake) GetInfo(ctx context.Context) (NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, nil
}

func (f *Fake) SpendableBalance(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SpendableMsat, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (f *Fake) MakeInvoice(ctx context.Context, label string, amountMsat uint64, description, descriptionHash string, expiry time.Duration) (Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash := sha256.Sum256([]byte(label + randomHex(8)))
	paymentHash := hex.EncodeToString(hash[:])

	inv := Invoice{
		Label:           label,
		Bolt11:          "lnbcrt" + paymentHash[:32],
		PaymentHash:     paymentHash,
		AmountMsat:      amountMsat,
		Description:     description,
		DescriptionHash: descriptionHash,
		Status:          "unpaid",
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(expiry),
	}
	f.invoicesByHash[paymentHash] = &inv
	return inv, nil
}

func (f *Fake) LookupInvoice(ctx context.Context, paymentHash string) (Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoicesByHash[paymentHash]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return *inv, nil
}

func (f *Fake) ListInvoices(ctx context.Context) ([]Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invoice, 0, len(f.invoicesByHash))
	for _, inv := range f.invoicesByHash {
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SettleInvoice is a test/dev helper (not part of NodeClient) that marks
// an invoice paid and fans the event out to SubscribeInvoicePaid
// subscribers, mirroring the `invoice_payment` hook.
func (f *Fake) SettleInvoice(paymentHash string, amountPaidMsat uint64) error {
	f.mu.Lock()
	inv, ok := f.invoicesByHash[paymentHash]
	if !ok {
		f.mu.Unlock()
		return ErrNotFound
	}
	inv.Status = "paid"
	inv.AmountPaidMsat = amountPaidMsat
	inv.PaidAt = time.Now()
	preimage := sha256.Sum256([]byte(paymentHash))
	inv.Preimage = hex.EncodeToString(preimage[:])
	snapshot := *inv
	subs := append([]chan Invoice(nil), f.paidSubs...)
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
	return nil
}

func (f *Fake) SubscribeInvoicePaid(ctx context.Context) (<-chan Invoice, error) {
	ch := make(chan Invoice, 16)
	f.mu.Lock()
	f.paidSubs = append(f.paidSubs, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.paidSubs {
			if c == ch {
				f.paidSubs = append(f.paidSubs[:i], f.paidSubs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (f *Fake) consumeInjectedFailure() error {
	err := f.NextPayFails
	f.NextPayFails = nil
	return err
}

// notifySent fans a completed outgoing payment out to SubscribeSentPayments
// subscribers. Callers must not hold f.mu.
func (f *Fake) notifySent(pay OutgoingPayment) {
	f.mu.Lock()
	subs := append([]chan OutgoingPayment(nil), f.sentSubs...)
	f.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- pay:
		default:
		}
	}
}

func (f *Fake) SubscribeSentPayments(ctx context.Context) (<-chan OutgoingPayment, error) {
	ch := make(chan OutgoingPayment, 16)
	f.mu.Lock()
	f.sentSubs = append(f.sentSubs, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.sentSubs {
			if c == ch {
				f.sentSubs = append(f.sentSubs[:i], f.sentSubs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (f *Fake) PayInvoice(ctx context.Context, bolt11 string, amountMsat uint64) (OutgoingPayment, error) {
	f.mu.Lock()
	if err := f.consumeInjectedFailure(); err != nil {
		f.mu.Unlock()
		return OutgoingPayment{}, err
	}

	hash := sha256.Sum256([]byte(bolt11))
	preimageHash := sha256.Sum256(hash[:])
	pay := OutgoingPayment{
		PaymentHash:    hex.EncodeToString(hash[:]),
		Preimage:       hex.EncodeToString(preimageHash[:]),
		Bolt11:         bolt11,
		AmountMsat:     amountMsat,
		AmountSentMsat: amountMsat,
		Status:         "complete",
		CreatedAt:      time.Now(),
		FeeMsat:        amountMsat / 1000, // deterministic 0.1% fee for tests
	}
	f.pays = append(f.pays, pay)
	f.mu.Unlock()
	f.notifySent(pay)
	return pay, nil
}

func (f *Fake) KeySend(ctx context.Context, params KeySendParams) (OutgoingPayment, error) {
	f.mu.Lock()
	if err := f.consumeInjectedFailure(); err != nil {
		f.mu.Unlock()
		return OutgoingPayment{}, err
	}

	hash := sha256.Sum256([]byte(params.Destination + randomHex(8)))
	preimageHash := sha256.Sum256(hash[:])
	pay := OutgoingPayment{
		PaymentHash:    hex.EncodeToString(hash[:]),
		Preimage:       hex.EncodeToString(preimageHash[:]),
		Destination:    params.Destination,
		AmountMsat:     params.AmountMsat,
		AmountSentMsat: params.AmountMsat,
		Status:         "complete",
		CreatedAt:      time.Now(),
	}
	f.pays = append(f.pays, pay)
	f.mu.Unlock()
	f.notifySent(pay)
	return pay, nil
}

func (f *Fake) ListPays(ctx context.Context) ([]OutgoingPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutgoingPayment, len(f.pays))
	copy(out, f.pays)
	return out, nil
}

func (f *Fake) MakeOffer(ctx context.Context, amountMsat uint64, description string, singleUse bool) (Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := randomHex(16)
	offer := Offer{
		OfferID:     id,
		Bolt12:      "lno1" + id,
		Description: description,
		AmountMsat:  amountMsat,
		Absolute:    singleUse,
	}
	f.offersByID[id] = &offer
	return offer, nil
}

func (f *Fake) LookupOffer(ctx context.Context, offerID string) (Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offer, ok := f.offersByID[offerID]
	if !ok {
		return Offer{}, ErrNotFound
	}
	return *offer, nil
}

func (f *Fake) DecodeOffer(ctx context.Context, bolt12 string) (Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := strings.TrimPrefix(bolt12, "lno1")
	if offer, ok := f.offersByID[id]; ok {
		return *offer, nil
	}
	return Offer{}, ErrNotFound
}

func (f *Fake) PayOffer(ctx context.Context, bolt12 string, amountMsat uint64) (OutgoingPayment, error) {
	f.mu.Lock()
	if err := f.consumeInjectedFailure(); err != nil {
		f.mu.Unlock()
		return OutgoingPayment{}, err
	}
	f.mu.Unlock()

	offer, err := f.DecodeOffer(ctx, bolt12)
	if err != nil {
		return OutgoingPayment{}, err
	}
	if amountMsat == 0 {
		amountMsat = offer.AmountMsat
	}

	f.mu.Lock()
	hash := sha256.Sum256([]byte(bolt12 + randomHex(8)))
	preimageHash := sha256.Sum256(hash[:])
	pay := OutgoingPayment{
		PaymentHash:    hex.EncodeToString(hash[:]),
		Preimage:       hex.EncodeToString(preimageHash[:]),
		Bolt11:         bolt12,
		AmountMsat:     amountMsat,
		AmountSentMsat: amountMsat,
		Status:         "complete",
		CreatedAt:      time.Now(),
	}
	f.pays = append(f.pays, pay)
	f.mu.Unlock()
	f.notifySent(pay)
	return pay, nil
}

func datastoreKey(key []string) string {
	return strings.Join(key, "/")
}

func (f *Fake) DatastoreSet(ctx context.Context, key []string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.datastore[datastoreKey(key)] = append([]byte(nil), value...)
	return nil
}

func (f *Fake) DatastoreGet(ctx context.Context, key []string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.datastore[datastoreKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (f *Fake) DatastoreList(ctx context.Context, prefix []string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := datastoreKey(prefix)
	out := make(map[string][]byte)
	for k, v := range f.datastore {
		if strings.HasPrefix(k, p) {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (f *Fake) DatastoreDelete(ctx context.Context, key []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.datastore, datastoreKey(key))
	return nil
}

var _ NodeClient = (*Fake)(nil)

// DebugDump returns a human-readable snapshot of the fake's invoice,
// offer, payment and datastore counts.
func (f *Fake) DebugDump() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("invoices=%d offers=%d pays=%d datastore_keys=%d",
		len(f.invoicesByHash), len(f.offersByID), len(f.pays), len(f.datastore))
}
