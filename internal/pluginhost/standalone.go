package pluginhost

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nip47bridge/cln-nwc-bridge/internal/bridgecfg"
	"github.com/nip47bridge/cln-nwc-bridge/internal/control"
)

// Standalone is the dev-mode Host: options come from a bridgecfg.Config
// loaded from a YAML file instead of lightningd's option-passing
// handshake, and RPC methods are served over a local control-socket
// server instead of stdin/stdout JSON-RPC to lightningd.
type Standalone struct {
	cfg    *bridgecfg.Config
	server *control.Server
}

// NewStandalone builds a Standalone host. cfg supplies option values;
// RegisterRPCMethod calls are forwarded to an internal control.Server
// bound to cfg.ControlSocket once Run is called.
func NewStandalone(cfg *bridgecfg.Config, logger *slog.Logger) *Standalone {
	return &Standalone{cfg: cfg, server: control.NewServer(cfg.ControlSocket, logger)}
}

// Option answers the handful of nip47-* ambient plugin options;
// standalone mode has no other source of truth for these than the
// loaded config file.
func (s *Standalone) Option(name string) string {
	switch name {
	case "nip47-datadir":
		return s.cfg.DataDir
	case "nip47-log-level":
		return s.cfg.LogLevel
	case "nip47-metrics-addr":
		return s.cfg.MetricsAddr
	case "nip47-control-socket":
		return s.cfg.ControlSocket
	default:
		return ""
	}
}

func (s *Standalone) RegisterRPCMethod(name, _ string, handler RPCHandler) error {
	s.server.Register(name, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return handler(ctx, params)
	})
	return nil
}

// Run serves registered RPC methods over the control socket until ctx
// is canceled.
func (s *Standalone) Run(ctx context.Context) error {
	return s.server.Run(ctx)
}

var _ Host = (*Standalone)(nil)
