package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
)

const defaultInvoiceExpiry = 604800 * time.Second

type makeInvoiceParams struct {
	AmountMsat      uint64 `json:"amount_msat"`
	Description     string `json:"description"`
	DescriptionHash string `json:"description_hash"`
	Expiry          int64  `json:"expiry"`
}

// MakeInvoice validates description/description_hash pairing and
// delegates invoice creation to the node.
func MakeInvoice(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p makeInvoiceParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}

	if p.DescriptionHash != "" {
		if p.Description == "" {
			return "", nil, badParams("Must have description when using description_hash")
		}
		sum := sha256.Sum256([]byte(p.Description))
		if hex.EncodeToString(sum[:]) != p.DescriptionHash {
			return "", nil, badParams("description_hash not matching description")
		}
	}

	expiry := defaultInvoiceExpiry
	if p.Expiry > 0 {
		expiry = time.Duration(p.Expiry) * time.Second
	}

	inv, err := hc.Node.MakeInvoice(ctx, "nwc-"+uuid.NewString(), p.AmountMsat, p.Description, p.DescriptionHash, expiry)
	if err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: "invoice creation failed: " + err.Error()}
	}
	return "make_invoice", invoiceToTransaction(inv), nil
}

type lookupInvoiceParams struct {
	PaymentHash string `json:"payment_hash"`
	Invoice     string `json:"invoice"`
}

// LookupInvoice requires exactly one of payment_hash/invoice and checks
// both the node's incoming invoices and its outgoing payments, since the
// NIP-47 "transaction" concept spans both directions.
func LookupInvoice(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p lookupInvoiceParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}
	if p.PaymentHash == "" && p.Invoice == "" {
		return "", nil, badParams("Neither invoice nor payment_hash given")
	}

	if p.PaymentHash != "" {
		if inv, err := hc.Node.LookupInvoice(ctx, p.PaymentHash); err == nil {
			return "lookup_invoice", invoiceToTransaction(inv), nil
		} else if err != node.ErrNotFound {
			return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: err.Error()}
		}
		if pay, ok := findPaymentByHash(ctx, hc, p.PaymentHash); ok {
			return "lookup_invoice", paymentToTransaction(pay), nil
		}
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrNotFound, Message: "no transaction with that payment_hash"}
	}

	if inv, ok := findInvoiceByBolt11(ctx, hc, p.Invoice); ok {
		return "lookup_invoice", invoiceToTransaction(inv), nil
	}
	if pay, ok := findPaymentByBolt11(ctx, hc, p.Invoice); ok {
		return "lookup_invoice", paymentToTransaction(pay), nil
	}
	return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrNotFound, Message: "no transaction with that invoice"}
}

func findInvoiceByBolt11(ctx context.Context, hc *dispatcher.HandlerContext, bolt11 string) (node.Invoice, bool) {
	invoices, err := hc.Node.ListInvoices(ctx)
	if err != nil {
		return node.Invoice{}, false
	}
	for _, inv := range invoices {
		if inv.Bolt11 == bolt11 {
			return inv, true
		}
	}
	return node.Invoice{}, false
}

func findPaymentByBolt11(ctx context.Context, hc *dispatcher.HandlerContext, bolt11 string) (node.OutgoingPayment, bool) {
	pays, err := hc.Node.ListPays(ctx)
	if err != nil {
		return node.OutgoingPayment{}, false
	}
	for _, p := range pays {
		if p.Bolt11 == bolt11 {
			return p, true
		}
	}
	return node.OutgoingPayment{}, false
}

func findPaymentByHash(ctx context.Context, hc *dispatcher.HandlerContext, paymentHash string) (node.OutgoingPayment, bool) {
	pays, err := hc.Node.ListPays(ctx)
	if err != nil {
		return node.OutgoingPayment{}, false
	}
	for _, p := range pays {
		if p.PaymentHash == paymentHash {
			return p, true
		}
	}
	return node.OutgoingPayment{}, false
}
