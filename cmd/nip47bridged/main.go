// Command nip47bridged is the bridge daemon: it owns the Connection
// Store, Relay Pool, Request Dispatcher, Method Handlers, and
// Notification Pump, wiring them against a standalone pluginhost.Host
// so the daemon runs without a real lightningd. Graceful shutdown uses a
// signal-notify goroutine that cancels a context; each subsystem tears
// down under a bounded shutdown timeout.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/nip47bridge/cln-nwc-bridge/internal/bridgecfg"
	"github.com/nip47bridge/cln-nwc-bridge/internal/bridgelog"
	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
	"github.com/nip47bridge/cln-nwc-bridge/internal/handlers"
	"github.com/nip47bridge/cln-nwc-bridge/internal/idempotency"
	"github.com/nip47bridge/cln-nwc-bridge/internal/infoevent"
	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
	"github.com/nip47bridge/cln-nwc-bridge/internal/metrics"
	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
	"github.com/nip47bridge/cln-nwc-bridge/internal/notify"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
	"github.com/nip47bridge/cln-nwc-bridge/internal/pluginhost"
	"github.com/nip47bridge/cln-nwc-bridge/internal/relaypool"
	"github.com/nip47bridge/cln-nwc-bridge/internal/store"
)

const requestKind = 23194

func main() {
	configPath := flag.String("config", "", "path to the YAML plugin-options file")
	flag.Parse()

	logger := bridgelog.Init()

	cfg, err := bridgecfg.Load(*configPath)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if cfg.LogLevel != "" {
		os.Setenv("LOG_LEVEL", cfg.LogLevel)
		logger = bridgelog.Init()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("creating datadir", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		stop()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *bridgecfg.Config, logger *slog.Logger) error {
	kv, err := store.OpenBoltKV(filepath.Join(cfg.DataDir, "connections.db"))
	if err != nil {
		return fmt.Errorf("opening connection store: %w", err)
	}
	defer kv.Close()

	st, err := store.New(ctx, kv, nil)
	if err != nil {
		return fmt.Errorf("loading connections: %w", err)
	}

	nodeClient := node.NewFake("", "nip47bridged", "regtest")

	m := metrics.New()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, m)

	pool := relaypool.New(logger,
		relaypool.WithConnectedGauge(m.ConnectedGauge),
		relaypool.WithReconnectCounter(m.ReconnectCounter),
	)
	defer pool.Close()

	cache := idempotency.New(idempotency.DefaultMaxEntries, idempotency.DefaultRetention)
	defer cache.Close()

	d := dispatcher.New(st, nodeClient, pool, handlers.All(), cache, logger, cfg.NotificationsEnabled)

	tracker := infoevent.NewTracker(pool, cfg.NotificationsEnabled, logger)

	for _, conn := range st.List("") {
		if conn.Revoked {
			continue
		}
		subscribeConnection(ctx, pool, d, conn.WalletPubKey, conn.Relays, logger)
		publishInfoEvent(ctx, tracker, st, conn.Name, logger)
	}

	pump := notify.NewPump(st, nodeClient, pool, cfg.NotificationsEnabled, logger)

	host := pluginhost.NewStandalone(cfg, logger)
	registerControlMethods(host, st, pool, d, tracker, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); _ = pump.Run(ctx) }()
	go func() { defer wg.Done(); _ = metricsSrv.Run(ctx) }()
	go func() {
		defer wg.Done()
		if err := host.Run(ctx); err != nil {
			logger.Error("control socket server stopped", "error", err)
		}
	}()

	logger.Info("nip47bridged started",
		"datadir", cfg.DataDir,
		"control_socket", cfg.ControlSocket,
		"metrics_addr", cfg.MetricsAddr,
		"notifications", cfg.NotificationsEnabled,
		"connections", len(st.List("")),
	)

	<-ctx.Done()

	stopped := make(chan struct{})
	go func() { wg.Wait(); close(stopped) }()
	select {
	case <-stopped:
		logger.Info("nip47bridged shut down cleanly")
	case <-time.After(30 * time.Second):
		logger.Warn("nip47bridged shutdown timed out after 30s, exiting anyway")
	}
	return nil
}

func subscribeConnection(ctx context.Context, pool *relaypool.Pool, d *dispatcher.Dispatcher, walletPubKey string, relays []string, logger *slog.Logger) {
	sub, err := pool.Subscribe(ctx, "req-"+walletPubKey, relays, nostrwire.Filter{
		Kinds: []int{requestKind},
		PTags: []string{walletPubKey},
	})
	if err != nil {
		logger.Error("subscribing to relay pool", "wallet_pubkey", walletPubKey, "error", err)
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done:
				return
			case evt, ok := <-sub.EventChan:
				if !ok {
					return
				}
				d.HandleInboundEvent(ctx, evt)
			}
		}
	}()
}

func publishInfoEvent(ctx context.Context, tracker *infoevent.Tracker, st *store.Store, connName string, logger *slog.Logger) {
	conn, entry, ok := st.Get(connName)
	if !ok {
		return
	}
	walletSecret, err := hexDecode(conn.WalletSecret)
	if err != nil {
		logger.Error("decoding wallet secret for info event", "conn", connName, "error", err)
		return
	}
	if err := tracker.EnsurePublished(ctx, conn.Name, conn.WalletPubKey, walletSecret, conn.Relays, entry); err != nil {
		logger.Error("publishing info event", "conn", connName, "error", err)
	}
}

// registerControlMethods wires the four Operator RPC commands to the
// standalone control socket, mirroring the lightning-cli nip47-* surface
// a real plugin deployment would register instead.
func registerControlMethods(host pluginhost.Host, st *store.Store, pool *relaypool.Pool, d *dispatcher.Dispatcher, tracker *infoevent.Tracker, logger *slog.Logger) {
	host.RegisterRPCMethod("nip47-create", "pair a new NWC connection", func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var req struct {
			Name   string   `json:"name"`
			Relays []string `json:"relays"`
			Lud16  string   `json:"lud16"`
			Budget string   `json:"budget"` // "unlimited" | "<msat>" | "<msat>/<interval>"
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
		budget, err := parseBudgetArg(req.Budget)
		if err != nil {
			return nil, err
		}
		conn, uri, err := st.Create(ctx, store.CreateParams{Name: req.Name, Relays: req.Relays, Lud16: req.Lud16, Budget: budget})
		if err != nil {
			return nil, err
		}
		subscribeConnection(ctx, pool, d, conn.WalletPubKey, conn.Relays, logger)
		publishInfoEvent(ctx, tracker, st, conn.Name, logger)
		return map[string]string{"name": conn.Name, "pairing_uri": uri}, nil
	})

	host.RegisterRPCMethod("nip47-revoke", "revoke an NWC connection", func(_ context.Context, raw json.RawMessage) (interface{}, error) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
		if err := st.Revoke(req.Name); err != nil {
			return nil, err
		}
		d.StopActor(req.Name)
		return map[string]string{"name": req.Name, "status": "revoked"}, nil
	})

	host.RegisterRPCMethod("nip47-list", "list NWC connections", func(_ context.Context, raw json.RawMessage) (interface{}, error) {
		var req struct {
			Filter string `json:"filter"`
		}
		_ = json.Unmarshal(raw, &req)

		conns := st.List(req.Filter)
		out := make([]connectionSummary, 0, len(conns))
		for _, conn := range conns {
			out = append(out, summarize(conn))
		}
		return out, nil
	})

	host.RegisterRPCMethod("nip47-budget", "adjust a connection's budget", func(_ context.Context, raw json.RawMessage) (interface{}, error) {
		var req struct {
			Name           string `json:"name"`
			CapMsat        uint64 `json:"cap_msat"`
			IntervalString string `json:"interval,omitempty"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("bad params: %w", err)
		}
		var interval *time.Duration
		if req.IntervalString != "" {
			iv, err := ledger.ParseInterval(req.IntervalString)
			if err != nil {
				return nil, err
			}
			interval = &iv
		}
		if err := st.AdjustBudget(req.Name, req.CapMsat, interval); err != nil {
			return nil, err
		}
		conn, entry, ok := st.Get(req.Name)
		if ok {
			publishInfoEventForEntry(context.Background(), tracker, conn, entry, logger)
		}
		return map[string]string{"name": req.Name, "status": "updated"}, nil
	})
}

func publishInfoEventForEntry(ctx context.Context, tracker *infoevent.Tracker, conn *store.Connection, entry *ledger.Entry, logger *slog.Logger) {
	walletSecret, err := hexDecode(conn.WalletSecret)
	if err != nil {
		logger.Error("decoding wallet secret for info event", "conn", conn.Name, "error", err)
		return
	}
	if err := tracker.EnsurePublished(ctx, conn.Name, conn.WalletPubKey, walletSecret, conn.Relays, entry); err != nil {
		logger.Error("publishing info event", "conn", conn.Name, "error", err)
	}
}

func parseBudgetArg(raw string) (ledger.BudgetConfig, error) {
	if raw == "" || raw == "unlimited" {
		return ledger.BudgetConfig{Kind: ledger.Unlimited}, nil
	}
	var capMsat uint64
	var intervalStr string
	if n, _ := fmt.Sscanf(raw, "%d/%s", &capMsat, &intervalStr); n == 2 {
		interval, err := ledger.ParseInterval(intervalStr)
		if err != nil {
			return ledger.BudgetConfig{}, err
		}
		return ledger.NewRenewing(capMsat, interval, time.Now())
	}
	if _, err := fmt.Sscanf(raw, "%d", &capMsat); err != nil {
		return ledger.BudgetConfig{}, fmt.Errorf("malformed budget %q", raw)
	}
	return ledger.NewFixed(capMsat), nil
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// connectionSummary is what nip47-list returns: the operator-relevant
// fields only, never WalletSecret or ClientPubKey.
type connectionSummary struct {
	Name          string   `json:"name"`
	WalletPubKey  string   `json:"wallet_pubkey"`
	Relays        []string `json:"relays"`
	Lud16         string   `json:"lud16,omitempty"`
	BudgetKind    string   `json:"budget_kind"`
	BudgetCapMsat uint64   `json:"budget_cap_msat"`
	RemainingMsat uint64   `json:"remaining_msat"`
	Revoked       bool     `json:"revoked"`
}

func summarize(conn *store.Connection) connectionSummary {
	kind := "unlimited"
	switch conn.BudgetKind {
	case ledger.Fixed:
		kind = "fixed"
	case ledger.Renewing:
		kind = "renewing"
	}
	return connectionSummary{
		Name:          conn.Name,
		WalletPubKey:  conn.WalletPubKey,
		Relays:        conn.Relays,
		Lud16:         conn.Lud16,
		BudgetKind:    kind,
		BudgetCapMsat: conn.BudgetCapMsat,
		RemainingMsat: conn.RemainingMsat,
		Revoked:       conn.Revoked,
	}
}
