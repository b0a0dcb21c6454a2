package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeInvoiceLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := NewFake("02abc", "test-node", "regtest")

	inv, err := fake.MakeInvoice(ctx, "order-1", 21000, "coffee", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "unpaid", inv.Status)

	got, err := fake.LookupInvoice(ctx, inv.PaymentHash)
	require.NoError(t, err)
	assert.Equal(t, inv.PaymentHash, got.PaymentHash)

	require.NoError(t, fake.SettleInvoice(inv.PaymentHash, 21000))
	got, err = fake.LookupInvoice(ctx, inv.PaymentHash)
	require.NoError(t, err)
	assert.Equal(t, "paid", got.Status)
	assert.NotEmpty(t, got.Preimage)
}

func TestFakeLookupInvoiceNotFound(t *testing.T) {
	fake := NewFake("02abc", "test-node", "regtest")
	_, err := fake.LookupInvoice(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFakeSubscribeInvoicePaidDeliversNotification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := NewFake("02abc", "test-node", "regtest")
	ch, err := fake.SubscribeInvoicePaid(ctx)
	require.NoError(t, err)

	inv, err := fake.MakeInvoice(ctx, "order-2", 1000, "", "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, fake.SettleInvoice(inv.PaymentHash, 1000))

	select {
	case paid := <-ch:
		assert.Equal(t, inv.PaymentHash, paid.PaymentHash)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for paid notification")
	}
}

func TestFakePayInvoiceHonorsInjectedFailure(t *testing.T) {
	ctx := context.Background()
	fake := NewFake("02abc", "test-node", "regtest")
	fake.NextPayFails = assert.AnError

	_, err := fake.PayInvoice(ctx, "lnbcrt1...", 5000)
	assert.ErrorIs(t, err, assert.AnError)

	// Failure is consumed once; the next call succeeds.
	pay, err := fake.PayInvoice(ctx, "lnbcrt1...", 5000)
	require.NoError(t, err)
	assert.Equal(t, "complete", pay.Status)
}

func TestFakeOfferRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := NewFake("02abc", "test-node", "regtest")

	offer, err := fake.MakeOffer(ctx, 50000, "subscription", false)
	require.NoError(t, err)

	decoded, err := fake.DecodeOffer(ctx, offer.Bolt12)
	require.NoError(t, err)
	assert.Equal(t, offer.OfferID, decoded.OfferID)

	pay, err := fake.PayOffer(ctx, offer.Bolt12, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), pay.AmountMsat)
}

func TestFakeDatastoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := NewFake("02abc", "test-node", "regtest")

	key := []string{"nip47", "connections", "alice"}
	require.NoError(t, fake.DatastoreSet(ctx, key, []byte(`{"name":"alice"}`)))

	got, err := fake.DatastoreGet(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice"}`, string(got))

	listed, err := fake.DatastoreList(ctx, []string{"nip47", "connections"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, fake.DatastoreDelete(ctx, key))
	_, err = fake.DatastoreGet(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
