package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
)

type makeOfferParams struct {
	Amount         uint64 `json:"amount"`
	Description    string `json:"description"`
	Issuer         string `json:"issuer"`
	AbsoluteExpiry int64  `json:"absolute_expiry"`
}

// OfferResult is the make_offer/lookup_offer response shape: the bolt12 offer string plus the fields the client supplied or
// the node decoded.
type OfferResult struct {
	Offer       string `json:"offer"`
	Description string `json:"description"`
	Issuer      string `json:"issuer,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// MakeOffer creates a BOLT12 offer via the node and echoes back the
// fields the caller supplied alongside the encoded offer string.
func MakeOffer(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p makeOfferParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}
	if p.Description == "" {
		return "", nil, badParams("description is required")
	}

	offer, err := hc.Node.MakeOffer(ctx, p.Amount, p.Description, p.AbsoluteExpiry != 0)
	if err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: err.Error()}
	}

	return "make_offer", OfferResult{
		Offer:       offer.Bolt12,
		Description: offer.Description,
		Issuer:      p.Issuer,
		Amount:      offer.AmountMsat,
		ExpiresAt:   p.AbsoluteExpiry,
	}, nil
}

type lookupOfferParams struct {
	Offer string `json:"offer"`
}

// LookupOffer (also registered as get_offer_info) decodes a bolt12
// offer string via the node, without requiring it to be one this wallet
// minted.
func LookupOffer(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p lookupOfferParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}

	offer, err := hc.Node.DecodeOffer(ctx, p.Offer)
	if err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrNotFound, Message: "offer could not be decoded"}
	}

	return "lookup_offer", OfferResult{
		Offer:       offer.Bolt12,
		Description: offer.Description,
		Issuer:      offer.Issuer,
		Amount:      offer.AmountMsat,
	}, nil
}

type payOfferParams struct {
	Offer     string `json:"offer"`
	Amount    uint64 `json:"amount"`
	PayerNote string `json:"payer_note"`
	ID        string `json:"id"`
}

// PayOffer requires an explicit amount when the offer has none embedded,
// then reserves and fetches-and-pays via the node. Double
// payment on a retransmitted identical request is prevented one layer up
// by the dispatcher's source-event-id idempotency cache, not here.
func PayOffer(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p payOfferParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}
	return payOneOffer(ctx, hc, p)
}

func payOneOffer(ctx context.Context, hc *dispatcher.HandlerContext, p payOfferParams) (string, interface{}, *dispatcher.NWCError) {
	offer, err := hc.Node.DecodeOffer(ctx, p.Offer)
	if err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrNotFound, Message: "offer could not be decoded"}
	}

	amountToPay := offer.AmountMsat
	if amountToPay == 0 {
		if p.Amount == 0 {
			return "", nil, badParams("amount_msat parameter required")
		}
		amountToPay = p.Amount
	}

	res, rerr := hc.Ledger.TryReserve(amountToPay)
	if rerr != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrQuotaExceeded, Message: rerr.Error()}
	}

	pay, err := hc.Node.PayOffer(ctx, p.Offer, amountToPay)
	if err != nil {
		_ = hc.Ledger.Release(res)
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrPaymentFailed, Message: err.Error()}
	}
	if err := hc.Ledger.Commit(res); err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: err.Error()}
	}

	return "pay_offer", PayResult{Preimage: pay.Preimage, FeesPaid: pay.FeeMsat}, nil
}

type multiPayOfferParams struct {
	Offers []struct {
		ID        string `json:"id"`
		Offer     string `json:"offer"`
		Amount    uint64 `json:"amount"`
		PayerNote string `json:"payer_note"`
	} `json:"offers"`
}

// MultiPayOffer dispatches each sub-offer-payment independently and
// concurrently, mirroring MultiPayInvoice.
func MultiPayOffer(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p multiPayOfferParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}

	var wg sync.WaitGroup
	for _, item := range p.Offers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resultType, result, nerr := payOneOffer(ctx, hc, payOfferParams{
				Offer:     item.Offer,
				Amount:    item.Amount,
				PayerNote: item.PayerNote,
				ID:        item.ID,
			})
			hc.Emit(item.ID, resultType, result, nerr)
		}()
	}
	wg.Wait()

	return "", nil, nil
}
