package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
)

func newTestKV(t *testing.T) *BoltKV {
	t.Helper()
	kv, err := OpenBoltKV(t.TempDir() + "/store.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	s, err := New(ctx, kv, nil)
	require.NoError(t, err)

	conn, uri, err := s.Create(ctx, CreateParams{
		Name:   "alice",
		Relays: []string{"wss://relay.example"},
		Budget: ledger.NewFixed(100_000),
	})
	require.NoError(t, err)
	assert.Contains(t, uri, "nostr+walletconnect://")
	assert.Equal(t, "alice", conn.Name)

	got, entry, ok := s.Get("alice")
	require.True(t, ok)
	assert.Equal(t, conn.WalletPubKey, got.WalletPubKey)
	require.NotNil(t, entry)
	assert.Equal(t, uint64(100_000), entry.Balance())
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, newTestKV(t), nil)
	require.NoError(t, err)

	_, _, err = s.Create(ctx, CreateParams{Name: "bob", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1)})
	require.NoError(t, err)

	_, _, err = s.Create(ctx, CreateParams{Name: "bob", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1)})
	assert.ErrorIs(t, err, ErrNameExists)
}

func TestRevokeDropsLedgerEntryAndBlocksNameReuse(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, newTestKV(t), nil)
	require.NoError(t, err)

	_, _, err = s.Create(ctx, CreateParams{Name: "carol", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1)})
	require.NoError(t, err)

	require.NoError(t, s.Revoke("carol"))

	conn, entry, ok := s.Get("carol")
	require.True(t, ok)
	assert.True(t, conn.Revoked)
	assert.Nil(t, entry)

	_, _, err = s.Create(ctx, CreateParams{Name: "carol", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1)})
	assert.ErrorIs(t, err, ErrNameExists)
}

func TestAdjustBudgetPersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	s, err := New(ctx, kv, nil)
	require.NoError(t, err)

	_, _, err = s.Create(ctx, CreateParams{Name: "dave", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1_000)})
	require.NoError(t, err)

	require.NoError(t, s.AdjustBudget("dave", 5_000, nil))

	reloaded, err := New(ctx, kv, nil)
	require.NoError(t, err)
	conn, entry, ok := reloaded.Get("dave")
	require.True(t, ok)
	assert.Equal(t, uint64(5_000), conn.BudgetCapMsat)
	assert.Equal(t, uint64(5_000), entry.Balance())
}

func TestListFiltersByNameSubstring(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, newTestKV(t), nil)
	require.NoError(t, err)

	_, _, err = s.Create(ctx, CreateParams{Name: "phone-app", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1)})
	require.NoError(t, err)
	_, _, err = s.Create(ctx, CreateParams{Name: "laptop-app", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1)})
	require.NoError(t, err)

	assert.Len(t, s.List(""), 2)
	assert.Len(t, s.List("phone"), 1)
}

func TestBindClientPubKeyOnlySetsOnce(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, newTestKV(t), nil)
	require.NoError(t, err)

	_, _, err = s.Create(ctx, CreateParams{Name: "erin", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1)})
	require.NoError(t, err)

	require.NoError(t, s.BindClientPubKey("erin", "pubkey-1"))
	require.NoError(t, s.BindClientPubKey("erin", "pubkey-2"))

	conn, _, ok := s.Get("erin")
	require.True(t, ok)
	assert.Equal(t, "pubkey-1", conn.ClientPubKey)

	_, _, found := s.GetByClientPubKey("pubkey-1")
	assert.True(t, found)
}

func TestAdjustBudgetRejectsRevokedConnection(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, newTestKV(t), nil)
	require.NoError(t, err)

	_, _, err = s.Create(ctx, CreateParams{Name: "frank", Relays: []string{"wss://relay.example"}, Budget: ledger.NewFixed(1)})
	require.NoError(t, err)
	require.NoError(t, s.Revoke("frank"))

	err = s.AdjustBudget("frank", 10, nil)
	assert.ErrorIs(t, err, ErrRevoked)
}
