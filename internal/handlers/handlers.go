// Package handlers implements each NIP-47 method as a
// dispatcher.MethodHandler, registered into a dispatcher.Registry that
// cmd/nip47bridged hands to dispatcher.New. Keeping these handlers in a
// package separate from internal/dispatcher avoids a dispatcher<->handlers
// import cycle: dispatcher owns the shared request/response/error types,
// handlers only imports dispatcher, never the reverse.
package handlers

import (
	"encoding/json"

	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
)

// All returns the full NIP-47 method registry.
func All() dispatcher.Registry {
	return dispatcher.Registry{
		"get_info":          GetInfo,
		"get_balance":       GetBalance,
		"make_invoice":      MakeInvoice,
		"lookup_invoice":    LookupInvoice,
		"list_transactions": ListTransactions,
		"pay_invoice":       PayInvoice,
		"multi_pay_invoice": MultiPayInvoice,
		"pay_keysend":       PayKeysend,
		"multi_pay_keysend": MultiPayKeysend,
		"make_offer":        MakeOffer,
		"lookup_offer":      LookupOffer,
		"get_offer_info":    LookupOffer,
		"pay_offer":         PayOffer,
		"multi_pay_offer":   MultiPayOffer,
	}
}

func badParams(message string) *dispatcher.NWCError {
	return &dispatcher.NWCError{Code: dispatcher.ErrOther, Message: message}
}

func decodeParams(raw json.RawMessage, v interface{}) *dispatcher.NWCError {
	if len(raw) == 0 {
		return badParams("missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badParams("malformed params: " + err.Error())
	}
	return nil
}
