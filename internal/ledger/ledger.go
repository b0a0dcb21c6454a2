package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQuotaExceeded is returned by TryReserve when the requested amount
// would exceed the connection's current headroom.
var ErrQuotaExceeded = errors.New("ledger: quota exceeded")

// Clock abstracts time.Now so renewal-boundary tests don't need real
// sleeps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock.
var RealClock Clock = realClock{}

// Persister is called after every successful debit and after every
// renewal, so a crash never loses a settled reservation. The ledger
// itself does not know how a Connection row is stored; Store implements
// this by writing the updated row through its KVStore.
type Persister interface {
	PersistLedger(connName string, remainingMsat uint64, periodStart time.Time) error
}

// Entry is the mutable per-connection ledger state.
type Entry struct {
	mu sync.Mutex

	connName      string
	config        BudgetConfig
	remainingMsat uint64
	periodStart   time.Time
	tentative     map[uint64]uint64 // reservation id -> amount held
	nextResID     uint64

	clock     Clock
	persister Persister
}

// NewEntry constructs a ledger entry. For Fixed/Renewing, remainingMsat
// should be the value restored from persistence (or CapMsat for a brand
// new connection); for Unlimited it is ignored.
func NewEntry(connName string, config BudgetConfig, remainingMsat uint64, periodStart time.Time, clock Clock, persister Persister) *Entry {
	if clock == nil {
		clock = RealClock
	}
	return &Entry{
		connName:      connName,
		config:        config,
		remainingMsat: remainingMsat,
		periodStart:   periodStart,
		tentative:     make(map[uint64]uint64),
		clock:         clock,
		persister:     persister,
	}
}

// Reservation is the token returned by TryReserve; it must be passed to
// exactly one of Commit or Release.
type Reservation struct {
	id     uint64
	amount uint64
}

// renewIfDue advances period_start by whole-interval multiples and resets
// remaining_msat when the current moment has crossed a renewal boundary.
// Caller must hold e.mu.
func (e *Entry) renewIfDue() {
	if e.config.Kind != Renewing {
		return
	}
	now := e.clock.Now()
	if now.Before(e.periodStart.Add(e.config.Interval)) {
		return
	}

	elapsed := now.Sub(e.periodStart)
	k := int64(elapsed / e.config.Interval)
	if k < 1 {
		k = 1
	}
	e.periodStart = e.periodStart.Add(time.Duration(k) * e.config.Interval)
	e.remainingMsat = e.config.CapMsat

	if e.persister != nil {
		_ = e.persister.PersistLedger(e.connName, e.remainingMsat, e.periodStart)
	}
}

// TryReserve attempts to reserve amountMsat against the connection's
// current headroom. It renews a Renewing budget first if due.
func (e *Entry) TryReserve(amountMsat uint64) (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.renewIfDue()

	if e.config.Kind == Unlimited {
		e.nextResID++
		return &Reservation{id: e.nextResID, amount: amountMsat}, nil
	}

	if amountMsat > e.remainingMsat {
		return nil, ErrQuotaExceeded
	}

	e.remainingMsat -= amountMsat
	e.nextResID++
	res := &Reservation{id: e.nextResID, amount: amountMsat}
	e.tentative[res.id] = amountMsat
	return res, nil
}

// Commit finalizes a reservation: the debit is now permanent and is
// fsync-persisted.
func (e *Entry) Commit(res *Reservation) error {
	if res == nil {
		return errors.New("ledger: nil reservation")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.tentative, res.id)

	if e.config.Kind == Unlimited {
		return nil
	}
	if e.persister != nil {
		return e.persister.PersistLedger(e.connName, e.remainingMsat, e.periodStart)
	}
	return nil
}

// Release restores a reservation's amount (the underlying payment failed
// before settlement).
func (e *Entry) Release(res *Reservation) error {
	if res == nil {
		return errors.New("ledger: nil reservation")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, held := e.tentative[res.id]; !held && e.config.Kind != Unlimited {
		return fmt.Errorf("ledger: reservation %d not outstanding", res.id)
	}
	delete(e.tentative, res.id)

	if e.config.Kind == Unlimited {
		return nil
	}

	e.remainingMsat += res.amount
	if e.remainingMsat > e.config.CapMsat {
		e.remainingMsat = e.config.CapMsat
	}
	if e.persister != nil {
		return e.persister.PersistLedger(e.connName, e.remainingMsat, e.periodStart)
	}
	return nil
}

// Adjust is the operator-initiated cap/interval change (nip47-budget).
// newCap == 0 is permitted and disables payments.
func (e *Entry) Adjust(newCap uint64, newInterval *time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if newInterval != nil {
		if newCap == 0 {
			return errors.New("ledger: budget_msat must be greater than 0 if you use interval")
		}
		e.config = BudgetConfig{Kind: Renewing, CapMsat: newCap, Interval: *newInterval, Anchor: now}
	} else if e.config.Kind == Renewing {
		e.config.CapMsat = newCap
	} else {
		e.config = NewFixed(newCap)
	}

	e.remainingMsat = newCap
	e.periodStart = now

	if e.persister != nil {
		return e.persister.PersistLedger(e.connName, e.remainingMsat, e.periodStart)
	}
	return nil
}

// Balance returns the current spendable balance after a lazy renewal
// check, without admitting a reservation. For Unlimited this always
// returns 0 since the caller (get_balance) is expected to source the
// node's channel balance directly in that case.
func (e *Entry) Balance() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renewIfDue()
	return e.remainingMsat
}

// Config returns a copy of the current budget configuration.
func (e *Entry) Config() BudgetConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// NextRenewal returns the time the next renewal boundary occurs, and false
// if the budget is not Renewing.
func (e *Entry) NextRenewal() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.config.Kind != Renewing {
		return time.Time{}, false
	}
	return e.periodStart.Add(e.config.Interval), true
}

// readMethods are always eligible regardless of budget state.
var readMethods = []string{
	"make_invoice", "lookup_invoice", "list_transactions", "get_balance", "get_info",
}

// paymentMethods require a positive cap (or Unlimited).
var paymentMethods = []string{
	"pay_invoice", "multi_pay_invoice", "pay_keysend", "multi_pay_keysend",
}

// offerMethods are offer-related read operations, always eligible.
var offerMethods = []string{
	"make_offer", "lookup_offer",
}

// offerPaymentMethods are pay_offer/multi_pay_offer. They are never
// advertised in get_info or the info event's method list, and never
// RESTRICTED-gated by IsEligible: admission is ledger.TryReserve alone,
// which reports QUOTA_EXCEEDED at payment time.
var offerPaymentMethods = []string{
	"pay_offer", "multi_pay_offer",
}

// EligibleMethods returns the canonical advertised method list: read
// methods, then payment methods, then offer methods. Payment methods are
// included only when the budget has a positive cap (or is Unlimited).
// pay_offer/multi_pay_offer are deliberately never included here.
func (e *Entry) EligibleMethods() []string {
	e.mu.Lock()
	hasCap := e.config.HasPositiveCap()
	e.mu.Unlock()

	methods := make([]string, 0, len(readMethods)+len(paymentMethods)+len(offerMethods))
	methods = append(methods, readMethods...)
	if hasCap {
		methods = append(methods, paymentMethods...)
	}
	methods = append(methods, offerMethods...)
	return methods
}

// IsEligible reports whether method is currently eligible for this entry.
// pay_offer/multi_pay_offer always pass here; they are only ever rejected
// by ledger.TryReserve's QUOTA_EXCEEDED at payment time, not RESTRICTED.
func (e *Entry) IsEligible(method string) bool {
	for _, m := range offerPaymentMethods {
		if m == method {
			return true
		}
	}
	for _, m := range e.EligibleMethods() {
		if m == method {
			return true
		}
	}
	return false
}
