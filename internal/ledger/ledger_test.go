package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type recordingPersister struct {
	calls []struct {
		remaining uint64
		start     time.Time
	}
}

func (r *recordingPersister) PersistLedger(connName string, remainingMsat uint64, periodStart time.Time) error {
	r.calls = append(r.calls, struct {
		remaining uint64
		start     time.Time
	}{remainingMsat, periodStart})
	return nil
}

func TestTryReserveFixedBudgetExhaustion(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	persister := &recordingPersister{}
	entry := NewEntry("conn-1", NewFixed(100_000), 100_000, clock.now, clock, persister)

	res, err := entry.TryReserve(60_000)
	require.NoError(t, err)
	require.NoError(t, entry.Commit(res))
	assert.Equal(t, uint64(40_000), entry.Balance())

	_, err = entry.TryReserve(50_000)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	res2, err := entry.TryReserve(40_000)
	require.NoError(t, err)
	require.NoError(t, entry.Commit(res2))
	assert.Equal(t, uint64(0), entry.Balance())
}

func TestReleaseRestoresReservedAmount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	entry := NewEntry("conn-1", NewFixed(100_000), 100_000, clock.now, clock, nil)

	res, err := entry.TryReserve(70_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(30_000), entry.Balance())

	require.NoError(t, entry.Release(res))
	assert.Equal(t, uint64(100_000), entry.Balance())
}

func TestZeroCapRejectsAllPayments(t *testing.T) {
	entry := NewEntry("conn-1", NewFixed(0), 0, time.Unix(1700000000, 0), nil, nil)
	_, err := entry.TryReserve(1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.False(t, entry.IsEligible("pay_invoice"))
	assert.True(t, entry.IsEligible("get_balance"))
}

func TestUnlimitedBudgetNeverExhausts(t *testing.T) {
	entry := NewEntry("conn-1", BudgetConfig{Kind: Unlimited}, 0, time.Unix(1700000000, 0), nil, nil)
	res, err := entry.TryReserve(1_000_000_000)
	require.NoError(t, err)
	require.NoError(t, entry.Commit(res))
	assert.True(t, entry.IsEligible("pay_invoice"))
}

func TestRenewingBudgetLazyRenewalAfterOneInterval(t *testing.T) {
	anchor := time.Unix(1700000000, 0)
	clock := &fakeClock{now: anchor}
	persister := &recordingPersister{}
	config, err := NewRenewing(50_000, time.Hour, anchor)
	require.NoError(t, err)
	entry := NewEntry("conn-1", config, 50_000, anchor, clock, persister)

	res, err := entry.TryReserve(50_000)
	require.NoError(t, err)
	require.NoError(t, entry.Commit(res))
	assert.Equal(t, uint64(0), entry.Balance())

	// Not yet due: still exhausted.
	clock.now = anchor.Add(59 * time.Minute)
	assert.Equal(t, uint64(0), entry.Balance())

	// Crossed exactly one interval: renews to full cap.
	clock.now = anchor.Add(time.Hour)
	assert.Equal(t, uint64(50_000), entry.Balance())

	next, ok := entry.NextRenewal()
	require.True(t, ok)
	assert.Equal(t, anchor.Add(2*time.Hour), next)
}

func TestRenewingBudgetAdvancesByWholeIntervalMultiples(t *testing.T) {
	anchor := time.Unix(1700000000, 0)
	clock := &fakeClock{now: anchor}
	config, err := NewRenewing(50_000, time.Hour, anchor)
	require.NoError(t, err)
	entry := NewEntry("conn-1", config, 10_000, anchor, clock, nil)

	// 3.5 intervals elapsed since the last observed period_start.
	clock.now = anchor.Add(3*time.Hour + 30*time.Minute)
	assert.Equal(t, uint64(50_000), entry.Balance())

	next, ok := entry.NextRenewal()
	require.True(t, ok)
	assert.Equal(t, anchor.Add(4*time.Hour), next)
}

func TestAdjustDisablesPaymentsOnZeroCap(t *testing.T) {
	entry := NewEntry("conn-1", NewFixed(100_000), 100_000, time.Unix(1700000000, 0), nil, nil)
	require.NoError(t, entry.Adjust(0, nil))
	assert.False(t, entry.IsEligible("pay_invoice"))
	_, err := entry.TryReserve(1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestAdjustRejectsIntervalWithZeroCap(t *testing.T) {
	entry := NewEntry("conn-1", NewFixed(100_000), 100_000, time.Unix(1700000000, 0), nil, nil)
	hour := time.Hour
	err := entry.Adjust(0, &hour)
	assert.Error(t, err)
}

func TestEligibleMethodsCanonicalOrder(t *testing.T) {
	entry := NewEntry("conn-1", NewFixed(100_000), 100_000, time.Unix(1700000000, 0), nil, nil)
	want := []string{
		"make_invoice", "lookup_invoice", "list_transactions", "get_balance", "get_info",
		"pay_invoice", "multi_pay_invoice", "pay_keysend", "multi_pay_keysend",
		"make_offer", "lookup_offer",
	}
	assert.Equal(t, want, entry.EligibleMethods())
}

func TestIsEligibleNeverRestrictsOfferPayments(t *testing.T) {
	entry := NewEntry("conn-1", NewFixed(0), 0, time.Unix(1700000000, 0), nil, nil)
	assert.True(t, entry.IsEligible("pay_offer"))
	assert.True(t, entry.IsEligible("multi_pay_offer"))
	assert.NotContains(t, entry.EligibleMethods(), "pay_offer")
	assert.NotContains(t, entry.EligibleMethods(), "multi_pay_offer")
}

func TestParseIntervalUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"10sec": 10 * time.Second,
		"15s":   15 * time.Second,
		"1min":  time.Minute,
		"5m":    5 * time.Minute,
		"1h":    time.Hour,
		"7d":    7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		require.NoErrorf(t, err, "ParseInterval(%q)", in)
		assert.Equalf(t, want, got, "ParseInterval(%q)", in)
	}
}

func TestParseIntervalRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "10", "-5h", "0h"} {
		_, err := ParseInterval(in)
		assert.Errorf(t, err, "expected error for %q", in)
	}
}
