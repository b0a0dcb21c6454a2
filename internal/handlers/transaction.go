package handlers

import (
	"github.com/nip47bridge/cln-nwc-bridge/internal/node"
)

// TransactionResult is the NIP-47 transaction record shape shared by
// make_invoice, lookup_invoice and list_transactions.
type TransactionResult struct {
	Type            string `json:"type"` // "incoming" or "outgoing"
	State           string `json:"state"`
	Invoice         string `json:"invoice,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Preimage        string `json:"preimage,omitempty"`
	PaymentHash     string `json:"payment_hash,omitempty"`
	AmountMsat      uint64 `json:"amount_msat"`
	FeesPaid        uint64 `json:"fees_paid,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	SettledAt       int64  `json:"settled_at,omitempty"`
}

func invoiceState(inv node.Invoice) string {
	switch inv.Status {
	case "paid":
		return "settled"
	case "expired":
		return "expired"
	default:
		if !inv.ExpiresAt.IsZero() && inv.ExpiresAt.Before(inv.CreatedAt) {
			return "expired"
		}
		return "pending"
	}
}

func invoiceToTransaction(inv node.Invoice) TransactionResult {
	t := TransactionResult{
		Type:            "incoming",
		State:           invoiceState(inv),
		Invoice:         inv.Bolt11,
		Description:     inv.Description,
		DescriptionHash: inv.DescriptionHash,
		Preimage:        inv.Preimage,
		PaymentHash:     inv.PaymentHash,
		AmountMsat:      inv.AmountPaidMsat,
		CreatedAt:       inv.CreatedAt.Unix(),
	}
	if t.AmountMsat == 0 {
		t.AmountMsat = inv.AmountMsat
	}
	if !inv.ExpiresAt.IsZero() {
		t.ExpiresAt = inv.ExpiresAt.Unix()
	}
	if !inv.PaidAt.IsZero() {
		t.SettledAt = inv.PaidAt.Unix()
	}
	return t
}

func paymentToTransaction(p node.OutgoingPayment) TransactionResult {
	state := "pending"
	switch p.Status {
	case "complete":
		state = "settled"
	case "failed":
		state = "failed"
	}
	t := TransactionResult{
		Type:        "outgoing",
		State:       state,
		Invoice:     p.Bolt11,
		Preimage:    p.Preimage,
		PaymentHash: p.PaymentHash,
		AmountMsat:  p.AmountMsat,
		FeesPaid:    p.FeeMsat,
		CreatedAt:   p.CreatedAt.Unix(),
	}
	if state == "settled" {
		t.SettledAt = p.CreatedAt.Unix()
	}
	return t
}
