package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
)

// bolt11NetParams are tried in turn since the invoice's HRP prefix
// (lnbc/lntb/lnbcrt/lnsb) selects the network, not the caller.
var bolt11NetParams = []*chaincfg.Params{
	&chaincfg.MainNetParams,
	&chaincfg.TestNet3Params,
	&chaincfg.RegressionNetParams,
	&chaincfg.SimNetParams,
}

// decodeBolt11Amount reports the amount embedded in a bolt11 invoice, if
// any. Decode failure (e.g. a non-standard invoice from a dev-mode fake
// node) is reported as "no embedded amount"; payOneInvoice then checks the
// node's own invoice list and otherwise accepts the caller-supplied amount
// rather than rejecting the request outright.
func decodeBolt11Amount(bolt11 string) (amountMsat uint64, hasAmount bool) {
	for _, params := range bolt11NetParams {
		inv, err := zpay32.Decode(bolt11, params)
		if err != nil {
			continue
		}
		if inv.MilliSat == nil {
			return 0, false
		}
		return uint64(*inv.MilliSat), true
	}
	return 0, false
}

type payInvoiceParams struct {
	Invoice string `json:"invoice"`
	Amount  uint64 `json:"amount"`
	ID      string `json:"id"`
}

// PayInvoice reserves against the ledger before calling the node, and
// releases on node failure.
func PayInvoice(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p payInvoiceParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}
	return payOneInvoice(ctx, hc, p)
}

func payOneInvoice(ctx context.Context, hc *dispatcher.HandlerContext, p payInvoiceParams) (string, interface{}, *dispatcher.NWCError) {
	embeddedMsat, hasEmbedded := decodeBolt11Amount(p.Invoice)
	if !hasEmbedded {
		// An invoice this node issued itself has its amount in the node's
		// own invoice list even when the bolt11 string does not decode.
		if inv, ok := findInvoiceByBolt11(ctx, hc, p.Invoice); ok && inv.AmountMsat != 0 {
			embeddedMsat, hasEmbedded = inv.AmountMsat, true
		}
	}
	if hasEmbedded && p.Amount != 0 {
		return "", nil, badParams("amount parameter is unnecessary when the invoice already specifies an amount")
	}

	amountToPay := p.Amount
	if hasEmbedded {
		amountToPay = embeddedMsat
	}
	if amountToPay == 0 {
		return "", nil, badParams("amount is required for a zero-amount invoice")
	}

	res, err := hc.Ledger.TryReserve(amountToPay)
	if err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrQuotaExceeded, Message: err.Error()}
	}

	pay, err := hc.Node.PayInvoice(ctx, p.Invoice, amountToPay)
	if err != nil {
		_ = hc.Ledger.Release(res)
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrPaymentFailed, Message: err.Error()}
	}
	if err := hc.Ledger.Commit(res); err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: err.Error()}
	}

	return "pay_invoice", PayResult{Preimage: pay.Preimage, FeesPaid: pay.FeeMsat}, nil
}

// PayResult is the pay_invoice/pay_keysend/pay_offer result shape.
type PayResult struct {
	Preimage string `json:"preimage"`
	FeesPaid uint64 `json:"fees_paid"`
}

type multiPayInvoiceParams struct {
	Invoices []struct {
		ID      string `json:"id"`
		Invoice string `json:"invoice"`
		Amount  uint64 `json:"amount"`
	} `json:"invoices"`
}

// MultiPayInvoice dispatches each sub-invoice independently and
// concurrently; each produces its own d-tagged response event, and a
// QUOTA_EXCEEDED on one sub-request does not affect the others.
func MultiPayInvoice(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p multiPayInvoiceParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}

	var wg sync.WaitGroup
	for _, item := range p.Invoices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resultType, result, nerr := payOneInvoice(ctx, hc, payInvoiceParams{
				Invoice: item.Invoice,
				Amount:  item.Amount,
				ID:      item.ID,
			})
			hc.Emit(item.ID, resultType, result, nerr)
		}()
	}
	wg.Wait()

	return "", nil, nil
}
