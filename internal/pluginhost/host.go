// Package pluginhost declares the collaborator interface that stands in
// for lightningd's plugin framework: option parsing at startup and RPC
// command registration so `lightning-cli nip47-*` reaches this daemon.
// In a real CLN deployment this is the stdin/stdout JSON-RPC handshake
// a plugin performs against lightningd; that wiring is out of scope
// here, represented only as an interface. cmd/nip47bridged wires the
// standalone implementation in this package instead.
package pluginhost

import (
	"context"
	"encoding/json"
)

// RPCHandler answers one lightning-cli nip47-* invocation. params is the
// raw JSON array or object lightningd would forward from the CLI; the
// returned value is marshaled back as the RPC result.
type RPCHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Host is the plugin lifecycle collaborator this daemon drives. Method
// names mirror the three things a CLN plugin does before serving
// traffic: declare its options, declare its RPC commands, then block
// until the host framework (or, here, the standalone implementation)
// shuts it down.
type Host interface {
	// Option returns the value of a previously-declared `nip47-*`
	// option, or the empty string if unset.
	Option(name string) string

	// RegisterRPCMethod exposes name as `lightning-cli name ...`,
	// dispatched to handler. Called during startup, before Run.
	RegisterRPCMethod(name, description string, handler RPCHandler) error

	// Run blocks serving registered RPC methods until ctx is canceled.
	Run(ctx context.Context) error
}
