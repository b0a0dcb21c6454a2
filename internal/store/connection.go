// Package store holds the Connection Store: the persisted record of every
// paired NWC connection, its budget configuration, and its ledger state.
package store

import (
	"encoding/json"
	"time"

	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
)

// Connection is the persisted row holding pairing identity, budget
// configuration, and ledger state, serialized as one JSON document per
// connection.
type Connection struct {
	Name         string `json:"name"`
	ClientPubKey string `json:"client_pubkey"` // hex, x-only
	WalletSecret string `json:"wallet_secret"` // hex, this connection's dedicated wallet keypair
	WalletPubKey string `json:"wallet_pubkey"` // hex, derived from WalletSecret
	Relays       []string `json:"relays"`
	Lud16        string   `json:"lud16,omitempty"`

	BudgetKind     ledger.Kind   `json:"budget_kind"`
	BudgetCapMsat  uint64        `json:"budget_cap_msat"`
	BudgetInterval time.Duration `json:"budget_interval,omitempty"`
	BudgetAnchor   time.Time     `json:"budget_anchor,omitempty"`

	RemainingMsat uint64    `json:"remaining_msat"`
	PeriodStart   time.Time `json:"period_start"`

	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`

	// Nip44Capable records whether this connection has ever sent a
	// request encrypted with NIP-44, so the notification pump knows
	// whether it may upgrade from the NIP-04 default.
	Nip44Capable bool `json:"nip44_capable,omitempty"`
}

// BudgetConfig reconstructs the ledger.BudgetConfig this row carries.
func (c *Connection) BudgetConfig() ledger.BudgetConfig {
	return ledger.BudgetConfig{
		Kind:     c.BudgetKind,
		CapMsat:  c.BudgetCapMsat,
		Interval: c.BudgetInterval,
		Anchor:   c.BudgetAnchor,
	}
}

// ApplyBudgetConfig stores a ledger.BudgetConfig back onto the row.
func (c *Connection) ApplyBudgetConfig(cfg ledger.BudgetConfig) {
	c.BudgetKind = cfg.Kind
	c.BudgetCapMsat = cfg.CapMsat
	c.BudgetInterval = cfg.Interval
	c.BudgetAnchor = cfg.Anchor
}

// Marshal serializes the row for KVStore persistence.
func (c *Connection) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalConnection parses a row previously written by Marshal.
func UnmarshalConnection(data []byte) (*Connection, error) {
	var c Connection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
