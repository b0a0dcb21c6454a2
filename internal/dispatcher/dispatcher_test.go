package dispatcher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nip47bridge/cln-nwc-bridge/internal/idempotency"
	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrcrypto"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
	"github.com/nip47bridge/cln-nwc-bridge/internal/store"
)

// capturingPublisher records every event handed to Publish instead of
// touching a real relay, so tests can assert on the decrypted content.
type capturingPublisher struct {
	mu   sync.Mutex
	evts []*nostrwire.Event
}

func (p *capturingPublisher) Publish(_ context.Context, evt *nostrwire.Event, _ []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evts = append(p.evts, evt)
	return nil
}

func (p *capturingPublisher) last() *nostrwire.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.evts) == 0 {
		return nil
	}
	return p.evts[len(p.evts)-1]
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.evts)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conns.db")
	kv, err := store.OpenBoltKV(path)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	st, err := store.New(context.Background(), kv, nil)
	require.NoError(t, err)
	return st
}

// getInfoHandler is a minimal handler used to exercise the pipeline
// without depending on internal/handlers, which is built separately.
func getInfoHandler(_ context.Context, hc *HandlerContext, _ json.RawMessage) (string, interface{}, *NWCError) {
	return "get_info", map[string]string{"alias": hc.Conn.Name}, nil
}

func payInvoiceHandler(_ context.Context, hc *HandlerContext, raw json.RawMessage) (string, interface{}, *NWCError) {
	var params struct {
		Invoice string `json:"invoice"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", nil, &NWCError{Code: ErrOther, Message: "bad params"}
	}
	res, err := hc.Ledger.TryReserve(1000)
	if err != nil {
		return "", nil, &NWCError{Code: ErrQuotaExceeded, Message: err.Error()}
	}
	if cerr := hc.Ledger.Commit(res); cerr != nil {
		return "", nil, &NWCError{Code: ErrInternal, Message: cerr.Error()}
	}
	return "pay_invoice", map[string]string{"preimage": "deadbeef"}, nil
}

func buildDispatcher(t *testing.T, registry Registry) (*Dispatcher, *store.Store, *capturingPublisher, []byte) {
	t.Helper()
	st := newTestStore(t)
	cache := idempotency.New(idempotency.DefaultMaxEntries, idempotency.DefaultRetention)
	t.Cleanup(cache.Close)
	pub := &capturingPublisher{}
	fakeNode := node.NewFake("wallet-node-pub", "test-alias", "regtest")

	d := New(st, fakeNode, pub, registry, cache, nil, true)

	conn, _, err := st.Create(context.Background(), store.CreateParams{
		Name:   "alice",
		Relays: []string{"wss://relay.example"},
		Budget: ledger.NewFixed(100_000),
	})
	require.NoError(t, err)

	clientSecret, err := nostrcrypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientPub, err := nostrcrypto.PublicKey(clientSecret)
	require.NoError(t, err)

	require.NoError(t, st.BindClientPubKey(conn.Name, hex.EncodeToString(clientPub)))

	return d, st, pub, clientSecret
}

func buildRequestEvent(t *testing.T, walletSecretHex string, clientSecret []byte, method string, params interface{}) *nostrwire.Event {
	t.Helper()
	walletSecret, err := hex.DecodeString(walletSecretHex)
	require.NoError(t, err)
	walletPub, err := nostrcrypto.PublicKey(walletSecret)
	require.NoError(t, err)

	paramsRaw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(Request{Method: method, Params: paramsRaw})
	require.NoError(t, err)

	convKey, err := nostrcrypto.ConversationKey(clientSecret, walletPub)
	require.NoError(t, err)
	content, err := nostrcrypto.Nip44Encrypt(string(body), convKey)
	require.NoError(t, err)

	clientPub, err := nostrcrypto.PublicKey(clientSecret)
	require.NoError(t, err)

	evt := &nostrwire.Event{
		PubKey:  hex.EncodeToString(clientPub),
		Kind:    requestKind,
		Tags:    [][]string{{"p", hex.EncodeToString(walletPub)}},
		Content: content,
	}
	require.NoError(t, nostrcrypto.SignAndStamp(evt, clientSecret))
	return evt
}

func decryptResponse(t *testing.T, respEvt *nostrwire.Event, clientSecret []byte) Response {
	t.Helper()
	walletPubBytes, err := hex.DecodeString(respEvt.PubKey)
	require.NoError(t, err)
	convKey, err := nostrcrypto.ConversationKey(clientSecret, walletPubBytes)
	require.NoError(t, err)
	plaintext, err := nostrcrypto.Nip44Decrypt(respEvt.Content, convKey)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(plaintext), &resp))
	return resp
}

func TestHandleRequestEventDispatchesToHandler(t *testing.T) {
	registry := Registry{"get_info": getInfoHandler}
	d, st, pub, clientSecret := buildDispatcher(t, registry)
	conn, _, ok := st.Get("alice")
	require.True(t, ok)

	evt := buildRequestEvent(t, conn.WalletSecret, clientSecret, "get_info", map[string]string{})

	d.handleRequestEvent(context.Background(), "alice", evt, discardLogger())

	require.Equal(t, 1, pub.count())
	resp := decryptResponse(t, pub.last(), clientSecret)
	require.Nil(t, resp.Error)
	require.Equal(t, "get_info", resp.ResultType)
}

func TestHandleRequestEventRejectsUnknownMethod(t *testing.T) {
	registry := Registry{}
	d, st, pub, clientSecret := buildDispatcher(t, registry)
	conn, _, ok := st.Get("alice")
	require.True(t, ok)

	evt := buildRequestEvent(t, conn.WalletSecret, clientSecret, "make_invoice", map[string]string{})
	d.handleRequestEvent(context.Background(), "alice", evt, discardLogger())

	resp := decryptResponse(t, pub.last(), clientSecret)
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrNotImplemented, resp.Error.Code)
}

func TestHandleRequestEventEnforcesBudgetExhaustion(t *testing.T) {
	registry := Registry{"pay_invoice": payInvoiceHandler}
	d, st, pub, clientSecret := buildDispatcher(t, registry)
	require.NoError(t, st.AdjustBudget("alice", 1500, nil))
	conn, _, ok := st.Get("alice")
	require.True(t, ok)

	evt1 := buildRequestEvent(t, conn.WalletSecret, clientSecret, "pay_invoice", map[string]string{"invoice": "lnbc1"})
	d.handleRequestEvent(context.Background(), "alice", evt1, discardLogger())
	resp1 := decryptResponse(t, pub.last(), clientSecret)
	require.Nil(t, resp1.Error)

	evt2 := buildRequestEvent(t, conn.WalletSecret, clientSecret, "pay_invoice", map[string]string{"invoice": "lnbc2"})
	d.handleRequestEvent(context.Background(), "alice", evt2, discardLogger())
	resp2 := decryptResponse(t, pub.last(), clientSecret)
	require.NotNil(t, resp2.Error)
	require.Equal(t, ErrQuotaExceeded, resp2.Error.Code)
}

func TestHandleRequestEventDedupsViaIdempotencyCache(t *testing.T) {
	registry := Registry{"get_info": getInfoHandler}
	d, st, pub, clientSecret := buildDispatcher(t, registry)
	conn, _, ok := st.Get("alice")
	require.True(t, ok)

	evt := buildRequestEvent(t, conn.WalletSecret, clientSecret, "get_info", map[string]string{})
	d.handleRequestEvent(context.Background(), "alice", evt, discardLogger())
	d.handleRequestEvent(context.Background(), "alice", evt, discardLogger())

	require.Equal(t, 1, pub.count())
}

func TestHandleInboundEventRoutesToActorAndProcesses(t *testing.T) {
	registry := Registry{"get_info": getInfoHandler}
	d, st, pub, clientSecret := buildDispatcher(t, registry)
	conn, _, ok := st.Get("alice")
	require.True(t, ok)

	evt := buildRequestEvent(t, conn.WalletSecret, clientSecret, "get_info", map[string]string{})
	d.HandleInboundEvent(context.Background(), *evt)

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	d.StopActor("alice")
}

func TestHandleRequestEventLatchesNip44Capability(t *testing.T) {
	registry := Registry{"get_info": getInfoHandler}
	d, st, _, clientSecret := buildDispatcher(t, registry)
	conn, _, ok := st.Get("alice")
	require.True(t, ok)
	require.False(t, conn.Nip44Capable)

	evt := buildRequestEvent(t, conn.WalletSecret, clientSecret, "get_info", map[string]string{})
	d.handleRequestEvent(context.Background(), "alice", evt, discardLogger())

	conn, _, ok = st.Get("alice")
	require.True(t, ok)
	require.True(t, conn.Nip44Capable, "a successfully decrypted nip44 request must latch the connection's capability flag")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
