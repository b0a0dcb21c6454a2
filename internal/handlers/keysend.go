package handlers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
)

type tlvRecordParam struct {
	Type  uint64 `json:"type"`
	Value string `json:"value"`
}

type payKeysendParams struct {
	PubKey     string           `json:"pubkey"`
	Amount     uint64           `json:"amount"`
	Preimage   string           `json:"preimage"`
	TLVRecords []tlvRecordParam `json:"tlv_records"`
	ID         string           `json:"id"`
}

// decodeTLVRecords converts the NIP-47 [{type, value}] wire shape into
// the raw type->bytes map NodeClient.KeySend expects, passing each
// value through untouched — interpreting custom TLV payloads is the
// node's job, not the bridge's.
func decodeTLVRecords(records []tlvRecordParam) (map[uint64][]byte, *dispatcher.NWCError) {
	if len(records) == 0 {
		return nil, nil
	}
	out := make(map[uint64][]byte, len(records))
	for _, r := range records {
		raw, err := hex.DecodeString(r.Value)
		if err != nil {
			return nil, badParams("tlv_records[" + strconv.FormatUint(r.Type, 10) + "].value is not valid hex")
		}
		out[r.Type] = raw
	}
	return out, nil
}

// PayKeysend refuses a caller-supplied preimage (the underlying node
// generates its own) and otherwise reserves and dispatches a spontaneous
// payment.
func PayKeysend(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p payKeysendParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}
	return payOneKeysend(ctx, hc, p)
}

func payOneKeysend(ctx context.Context, hc *dispatcher.HandlerContext, p payKeysendParams) (string, interface{}, *dispatcher.NWCError) {
	if p.Preimage != "" {
		return "", nil, badParams("the node does not accept a caller-supplied preimage for keysend")
	}
	if p.Amount == 0 {
		return "", nil, badParams("amount is required")
	}

	tlvRecords, nerr := decodeTLVRecords(p.TLVRecords)
	if nerr != nil {
		return "", nil, nerr
	}

	res, err := hc.Ledger.TryReserve(p.Amount)
	if err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrQuotaExceeded, Message: err.Error()}
	}

	pay, err := hc.Node.KeySend(ctx, node.KeySendParams{
		Destination: p.PubKey,
		AmountMsat:  p.Amount,
		TLVRecords:  tlvRecords,
	})
	if err != nil {
		_ = hc.Ledger.Release(res)
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrPaymentFailed, Message: err.Error()}
	}
	if err := hc.Ledger.Commit(res); err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: err.Error()}
	}

	return "pay_keysend", PayResult{Preimage: pay.Preimage, FeesPaid: pay.FeeMsat}, nil
}

type multiPayKeysendParams struct {
	Keysends []struct {
		ID         string           `json:"id"`
		PubKey     string           `json:"pubkey"`
		Amount     uint64           `json:"amount"`
		TLVRecords []tlvRecordParam `json:"tlv_records"`
	} `json:"keysends"`
}

// MultiPayKeysend dispatches each sub-keysend independently and
// concurrently, mirroring MultiPayInvoice.
func MultiPayKeysend(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p multiPayKeysendParams
	if nerr := decodeParams(raw, &p); nerr != nil {
		return "", nil, nerr
	}

	var wg sync.WaitGroup
	for _, item := range p.Keysends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resultType, result, nerr := payOneKeysend(ctx, hc, payKeysendParams{
				PubKey:     item.PubKey,
				Amount:     item.Amount,
				ID:         item.ID,
				TLVRecords: item.TLVRecords,
			})
			hc.Emit(item.ID, resultType, result, nerr)
		}()
	}
	wg.Wait()

	return "", nil, nil
}
