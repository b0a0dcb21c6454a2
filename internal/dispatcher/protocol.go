// Package dispatcher turns inbound kind-23194 request events into decoded
// NIP-47 method calls, enforces budget and rate-limit admission, invokes
// the matching internal/handlers function, and emits the kind-23195
// response event. One Actor per Connection serializes this work.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
	"github.com/nip47bridge/cln-nwc-bridge/internal/store"
)

// NIP-47 error codes — same vocabulary a client matches responses
// against, now produced by the wallet side.
const (
	ErrRateLimited         = "RATE_LIMITED"
	ErrNotImplemented      = "NOT_IMPLEMENTED"
	ErrInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrRestricted          = "RESTRICTED"
	ErrUnauthorized        = "UNAUTHORIZED"
	ErrInternal            = "INTERNAL"
	ErrOther               = "OTHER"
	ErrPaymentFailed       = "PAYMENT_FAILED"
	ErrNotFound            = "NOT_FOUND"
)

// NWCError is the error object carried in a Response, mirroring
// nwc.go's NWCError shape.
type NWCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Request is the decrypted JSON-RPC body of a kind-23194 event.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the JSON-RPC body encrypted into a kind-23195 event.
type Response struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *NWCError       `json:"error,omitempty"`
}

// HandlerContext is everything a method handler needs to act on behalf of
// one connection for one request.
type HandlerContext struct {
	Conn                 *store.Connection
	Ledger               *ledger.Entry
	Node                 node.NodeClient
	NotificationsEnabled bool

	// Emit lets a multi_pay_* handler publish one additional response
	// event per sub-request, each tagged with dTag. It is nil for
	// single-response methods. A handler that calls Emit must return
	// ("", nil, nil) so the dispatcher does not also publish a generic
	// response for the overall request.
	Emit func(dTag string, resultType string, result interface{}, nerr *NWCError)
}

// MethodHandler implements one NIP-47 method. It returns either a
// result (marshaled into Response.Result under ResultType) or a non-nil
// NWCError, never both. A multi_pay_* handler that drives hc.Emit itself
// returns ("", nil, nil).
type MethodHandler func(ctx context.Context, hc *HandlerContext, rawParams json.RawMessage) (resultType string, result interface{}, nerr *NWCError)

// Registry maps NIP-47 method names to their handler, built by
// internal/handlers and injected into New.
type Registry map[string]MethodHandler
