package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrcrypto"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
)

var keyPrefix = []string{"nip47", "connections"}

// ErrNameExists is returned by Create when name is already in use by a
// live or revoked connection. Revoked names are never recycled so an old pairing URI can never be reissued to a new
// keypair.
var ErrNameExists = errors.New("store: connection name already exists")

// ErrRevoked is returned when an operation targets a revoked connection.
var ErrRevoked = errors.New("store: connection is revoked")

// CreateParams are the inputs to Create.
type CreateParams struct {
	Name   string
	Relays []string
	Lud16  string
	Budget ledger.BudgetConfig
}

// Store is the Connection Store: it owns the persisted Connection rows
// and an in-memory ledger.Entry per live connection, following the
// read-modify-write-under-lock discipline this repository's own
// sync.Map-backed cache uses, adapted to a sync.RWMutex-guarded map since
// Connection rows need multi-field atomic updates.
type Store struct {
	mu      sync.RWMutex
	kv      KVStore
	conns   map[string]*Connection
	entries map[string]*ledger.Entry
	clock   ledger.Clock
}

// New loads every persisted Connection row from kv and builds the live
// in-memory view. clock is injected for deterministic ledger renewal
// tests; pass nil for ledger.RealClock.
func New(ctx context.Context, kv KVStore, clock ledger.Clock) (*Store, error) {
	if clock == nil {
		clock = ledger.RealClock
	}
	s := &Store{
		kv:      kv,
		conns:   make(map[string]*Connection),
		entries: make(map[string]*ledger.Entry),
		clock:   clock,
	}

	rows, err := kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("store: loading connections: %w", err)
	}
	for _, raw := range rows {
		conn, err := UnmarshalConnection(raw)
		if err != nil {
			return nil, fmt.Errorf("store: decoding connection row: %w", err)
		}
		s.conns[conn.Name] = conn
		if !conn.Revoked {
			s.entries[conn.Name] = ledger.NewEntry(conn.Name, conn.BudgetConfig(), conn.RemainingMsat, conn.PeriodStart, s.clock, s)
		}
	}
	return s, nil
}

// PersistLedger implements ledger.Persister: every commit/renewal writes
// the updated balance back through the KVStore so a restart resumes with
// the correct remaining budget.
func (s *Store) PersistLedger(connName string, remainingMsat uint64, periodStart time.Time) error {
	s.mu.Lock()
	conn, ok := s.conns[connName]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("store: PersistLedger: unknown connection %q", connName)
	}
	conn.RemainingMsat = remainingMsat
	conn.PeriodStart = periodStart
	snapshot := *conn
	s.mu.Unlock()

	return s.writeRow(&snapshot)
}

func (s *Store) writeRow(conn *Connection) error {
	data, err := conn.Marshal()
	if err != nil {
		return fmt.Errorf("store: marshaling connection: %w", err)
	}
	key := append(append([]string{}, keyPrefix...), conn.Name)
	return s.kv.Set(context.Background(), key, data)
}

// Create pairs a new connection: generates a dedicated wallet keypair,
// persists the row, builds its pairing URI, and starts its ledger entry.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Connection, string, error) {
	s.mu.Lock()
	if _, ok := s.conns[p.Name]; ok {
		s.mu.Unlock()
		return nil, "", ErrNameExists
	}
	s.mu.Unlock()

	walletSecret, err := nostrcrypto.GeneratePrivateKey()
	if err != nil {
		return nil, "", fmt.Errorf("store: generating wallet key: %w", err)
	}
	walletPub, err := nostrcrypto.PublicKey(walletSecret)
	if err != nil {
		return nil, "", fmt.Errorf("store: deriving wallet pubkey: %w", err)
	}
	clientSecret, err := nostrcrypto.GeneratePrivateKey()
	if err != nil {
		return nil, "", fmt.Errorf("store: generating client secret: %w", err)
	}
	clientPub, err := nostrcrypto.PublicKey(clientSecret)
	if err != nil {
		return nil, "", fmt.Errorf("store: deriving client pubkey: %w", err)
	}

	now := s.clock.Now()
	conn := &Connection{
		Name:          p.Name,
		WalletSecret:  hex.EncodeToString(walletSecret),
		WalletPubKey:  hex.EncodeToString(walletPub),
		ClientPubKey:  hex.EncodeToString(clientPub), // the wallet minted clientSecret, so it already knows the paired pubkey
		Relays:        p.Relays,
		Lud16:         p.Lud16,
		RemainingMsat: p.Budget.CapMsat,
		PeriodStart:   now,
		CreatedAt:     now,
	}
	conn.ApplyBudgetConfig(p.Budget)

	uri, err := nostrwire.BuildPairingURI(&nostrwire.PairingURI{
		WalletPubKey: walletPub,
		Relays:       p.Relays,
		ClientSecret: clientSecret,
		Lud16:        p.Lud16,
	})
	if err != nil {
		return nil, "", fmt.Errorf("store: building pairing uri: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.conns[p.Name]; ok {
		s.mu.Unlock()
		return nil, "", ErrNameExists
	}
	s.conns[p.Name] = conn
	s.entries[p.Name] = ledger.NewEntry(p.Name, p.Budget, conn.RemainingMsat, conn.PeriodStart, s.clock, s)
	s.mu.Unlock()

	if err := s.writeRow(conn); err != nil {
		return nil, "", err
	}
	return conn, uri, nil
}

// Get returns the connection row and its ledger entry.
func (s *Store) Get(name string) (*Connection, *ledger.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[name]
	if !ok {
		return nil, nil, false
	}
	return conn, s.entries[name], true
}

// GetByClientPubKey finds the connection paired to a given client pubkey,
// used by the dispatcher to route an inbound kind-23194 event.
func (s *Store) GetByClientPubKey(clientPubKey string) (*Connection, *ledger.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, conn := range s.conns {
		if conn.ClientPubKey == clientPubKey && !conn.Revoked {
			return conn, s.entries[name], true
		}
	}
	return nil, nil, false
}

// BindClientPubKey records the client pubkey observed on a connection's
// first inbound request, so future events route without a relay lookup.
func (s *Store) BindClientPubKey(name, clientPubKey string) error {
	s.mu.Lock()
	conn, ok := s.conns[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("store: unknown connection %q", name)
	}
	if conn.ClientPubKey == "" {
		conn.ClientPubKey = clientPubKey
	}
	snapshot := *conn
	s.mu.Unlock()
	return s.writeRow(&snapshot)
}

// MarkNip44Capable records that name has successfully decrypted a NIP-44
// request at least once, a one-way latch checked by the notification pump
// before it will upgrade a connection off the NIP-04 default.
func (s *Store) MarkNip44Capable(name string) error {
	s.mu.Lock()
	conn, ok := s.conns[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("store: unknown connection %q", name)
	}
	if conn.Nip44Capable {
		s.mu.Unlock()
		return nil
	}
	conn.Nip44Capable = true
	snapshot := *conn
	s.mu.Unlock()
	return s.writeRow(&snapshot)
}

// List returns every connection whose name contains filter (empty filter
// matches all), mirroring `nip47-list [name]`.
func (s *Store) List(filter string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Connection, 0, len(s.conns))
	for name, conn := range s.conns {
		if filter == "" || strings.Contains(name, filter) {
			cp := *conn
			out = append(out, &cp)
		}
	}
	return out
}

// Revoke marks a connection revoked; its ledger entry is dropped so no
// further requests are admitted, and its name is never recycled.
func (s *Store) Revoke(name string) error {
	s.mu.Lock()
	conn, ok := s.conns[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("store: unknown connection %q", name)
	}
	conn.Revoked = true
	delete(s.entries, name)
	snapshot := *conn
	s.mu.Unlock()
	return s.writeRow(&snapshot)
}

// AdjustBudget applies an operator-initiated budget change
// (`nip47-budget`) to a live connection's ledger entry.
func (s *Store) AdjustBudget(name string, newCapMsat uint64, newInterval *time.Duration) error {
	s.mu.RLock()
	conn, ok := s.conns[name]
	entry := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("store: unknown connection %q", name)
	}
	if conn.Revoked {
		return ErrRevoked
	}
	if entry == nil {
		return fmt.Errorf("store: connection %q has no live ledger entry", name)
	}
	if err := entry.Adjust(newCapMsat, newInterval); err != nil {
		return err
	}

	s.mu.Lock()
	conn.ApplyBudgetConfig(entry.Config())
	snapshot := *conn
	s.mu.Unlock()
	return s.writeRow(&snapshot)
}
