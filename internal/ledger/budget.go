// Package ledger implements the per-connection budget state machine:
// reservation/commit/release accounting, renewal scheduling, and the
// derivation of which NIP-47 methods a connection may currently call.
package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies which variant of BudgetConfig a connection carries.
type Kind int

const (
	// Unlimited connections have no cap; all payment methods are always
	// eligible.
	Unlimited Kind = iota
	// Fixed connections have a one-time cap that, once spent, stays
	// exhausted until the operator raises it.
	Fixed
	// Renewing connections have a cap that resets every Interval after
	// Anchor.
	Renewing
)

// BudgetConfig is the sum type backing a connection's spending limit:
// Unlimited, a one-time Fixed cap, or a Renewing cap on an interval.
type BudgetConfig struct {
	Kind     Kind
	CapMsat  uint64
	Interval time.Duration // only meaningful for Renewing
	Anchor   time.Time     // only meaningful for Renewing
}

// ErrInvalidInterval is returned by ParseInterval for a malformed string.
var ErrInvalidInterval = errors.New("ledger: invalid interval")

// ParseInterval parses strings like "10sec", "15s", "1h", "7d" into a
// time.Duration. Recognized units: sec/s, min/m, h, d. The magnitude must
// be a positive integer.
func ParseInterval(s string) (time.Duration, error) {
	unit, magnitudeLen := splitUnit(s)
	if unit == "" || magnitudeLen == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}

	magnitude, err := strconv.ParseInt(s[:magnitudeLen], 10, 64)
	if err != nil || magnitude <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}

	var unitDuration time.Duration
	switch unit {
	case "sec", "s":
		unitDuration = time.Second
	case "min", "m":
		unitDuration = time.Minute
	case "h":
		unitDuration = time.Hour
	case "d":
		unitDuration = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidInterval, s)
	}

	return time.Duration(magnitude) * unitDuration, nil
}

// splitUnit finds the longest recognized unit suffix and returns it plus
// the length of the magnitude prefix. Longest-suffix-first so "sec" is
// preferred over a spurious single-letter match.
func splitUnit(s string) (unit string, magnitudeLen int) {
	for _, candidate := range []string{"sec", "min", "s", "m", "h", "d"} {
		if len(s) > len(candidate) && s[len(s)-len(candidate):] == candidate {
			return candidate, len(s) - len(candidate)
		}
	}
	return "", 0
}

// NewFixed validates and constructs a Fixed budget. capMsat == 0 is valid
// and means payments are permanently disabled.
func NewFixed(capMsat uint64) BudgetConfig {
	return BudgetConfig{Kind: Fixed, CapMsat: capMsat}
}

// NewRenewing validates and constructs a Renewing budget. capMsat must be
// greater than 0.
func NewRenewing(capMsat uint64, interval time.Duration, anchor time.Time) (BudgetConfig, error) {
	if capMsat == 0 {
		return BudgetConfig{}, errors.New("ledger: renewing budget requires cap_msat > 0")
	}
	if interval <= 0 {
		return BudgetConfig{}, fmt.Errorf("%w: interval must be positive", ErrInvalidInterval)
	}
	return BudgetConfig{Kind: Renewing, CapMsat: capMsat, Interval: interval, Anchor: anchor}, nil
}

// HasPositiveCap reports whether payment methods should ever be eligible
// for this configuration (ignoring current remaining balance).
func (b BudgetConfig) HasPositiveCap() bool {
	return b.Kind == Unlimited || b.CapMsat > 0
}
