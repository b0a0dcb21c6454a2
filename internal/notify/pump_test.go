package notify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrcrypto"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
	"github.com/nip47bridge/cln-nwc-bridge/internal/store"
)

type fakeLister struct {
	conns []*store.Connection
}

func (f *fakeLister) List(string) []*store.Connection { return f.conns }

type capturingPublisher struct {
	mu    sync.Mutex
	sent  []*nostrwire.Event
	relay [][]string
}

func (p *capturingPublisher) Publish(_ context.Context, evt *nostrwire.Event, relayURLs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, evt)
	p.relay = append(p.relay, relayURLs)
	return nil
}

func newTestConnection(t *testing.T, name string, nip44Capable bool) *store.Connection {
	t.Helper()
	walletSecret, err := nostrcrypto.GeneratePrivateKey()
	require.NoError(t, err)
	walletPub, err := nostrcrypto.PublicKey(walletSecret)
	require.NoError(t, err)
	clientSecret, err := nostrcrypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientPub, err := nostrcrypto.PublicKey(clientSecret)
	require.NoError(t, err)

	return &store.Connection{
		Name:         name,
		WalletSecret: hex.EncodeToString(walletSecret),
		WalletPubKey: hex.EncodeToString(walletPub),
		ClientPubKey: hex.EncodeToString(clientPub),
		Relays:       []string{"wss://relay.example"},
		Nip44Capable: nip44Capable,
	}
}

func TestFanOutReceivedPublishesToEveryNonRevokedConnection(t *testing.T) {
	live := newTestConnection(t, "alice", false)
	revoked := newTestConnection(t, "bob", false)
	revoked.Revoked = true

	pub := &capturingPublisher{}
	pump := NewPump(&fakeLister{conns: []*store.Connection{live, revoked}}, node.NewFake("n", "n", "regtest"), pub, true, nil)

	inv := node.Invoice{
		Bolt11:         "lnbcrt1...",
		PaymentHash:    "deadbeef",
		Preimage:       "cafe",
		AmountPaidMsat: 1000,
		CreatedAt:      time.Now(),
		PaidAt:         time.Now(),
	}
	pump.fanOutReceived(context.Background(), inv)

	require.Len(t, pub.sent, 1, "revoked connections must not receive notifications")
	require.Equal(t, live.WalletPubKey, pub.sent[0].PubKey)
	require.Equal(t, notificationKind, pub.sent[0].Kind)
}

func TestFanOutUsesNip04ByDefaultAndNip44OnceAdvertised(t *testing.T) {
	nip04Conn := newTestConnection(t, "alice", false)
	nip44Conn := newTestConnection(t, "bob", true)

	pub := &capturingPublisher{}
	pump := NewPump(&fakeLister{conns: []*store.Connection{nip04Conn, nip44Conn}}, node.NewFake("n", "n", "regtest"), pub, true, nil)

	pump.fanOutSent(context.Background(), node.OutgoingPayment{
		PaymentHash: "feedface",
		Preimage:    "beef",
		AmountMsat:  2000,
		FeeMsat:     2,
		CreatedAt:   time.Now(),
	})

	require.Len(t, pub.sent, 2)
	byPubKey := make(map[string]*nostrwire.Event, 2)
	for _, evt := range pub.sent {
		byPubKey[evt.PubKey] = evt
	}

	nip04Evt := byPubKey[nip04Conn.WalletPubKey]
	_, hasEncTag := nip04Evt.Tag("encryption")
	require.False(t, hasEncTag, "nip04 notifications carry no encryption tag")

	nip44Evt := byPubKey[nip44Conn.WalletPubKey]
	encTag, ok := nip44Evt.Tag("encryption")
	require.True(t, ok)
	require.Equal(t, "nip44_v2", encTag)
}

func TestBuildNotificationEventContentDecryptsToExpectedPayload(t *testing.T) {
	conn := newTestConnection(t, "alice", false)

	pl := sentPayload(node.OutgoingPayment{
		PaymentHash: "abc123",
		Preimage:    "def456",
		AmountMsat:  500,
		FeeMsat:     1,
		CreatedAt:   time.Now(),
	})
	raw, err := json.Marshal(pl)
	require.NoError(t, err)

	evt, err := buildNotificationEvent(conn, string(raw))
	require.NoError(t, err)

	walletSecret, err := hex.DecodeString(conn.WalletSecret)
	require.NoError(t, err)

	walletPubFromEvt, err := hex.DecodeString(evt.PubKey)
	require.NoError(t, err)
	require.Len(t, walletPubFromEvt, 32)

	shared, err := nostrcrypto.Nip04SharedSecret(walletSecret, mustHex(t, conn.ClientPubKey))
	require.NoError(t, err)
	plaintext, err := nostrcrypto.Nip04Decrypt(evt.Content, shared)
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, json.Unmarshal([]byte(plaintext), &decoded))
	require.Equal(t, "payment_sent", decoded.NotificationType)
	require.Equal(t, uint64(500), decoded.Notification.Amount)
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
