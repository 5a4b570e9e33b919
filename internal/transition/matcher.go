package transition

import (
	"fmt"

	"vault-risk-backtest/internal/liquidation"
	"vault-risk-backtest/internal/vault"
)

// DefaultCollateralType is the collateral type analysed when none is configured.
const DefaultCollateralType = "ETH-A"

// MissingVaultPolicy decides what happens to a vault that is absent from
// the second snapshot.
type MissingVaultPolicy string

const (
	// MissingVaultFlag keeps the transition with a nil second record.
	MissingVaultFlag MissingVaultPolicy = "flag"
	// MissingVaultSkip drops the transition.
	MissingVaultSkip MissingVaultPolicy = "skip"
)

// ParseMissingVaultPolicy validates a configured policy name.
func ParseMissingVaultPolicy(s string) (MissingVaultPolicy, error) {
	switch MissingVaultPolicy(s) {
	case MissingVaultFlag, "":
		return MissingVaultFlag, nil
	case MissingVaultSkip:
		return MissingVaultSkip, nil
	default:
		return "", fmt.Errorf("unknown missing vault policy %q", s)
	}
}

// Options configure a Matcher.
type Options struct {
	CollateralType string
	TieBreak       liquidation.TieBreak
	MissingVault   MissingVaultPolicy
}

// Matcher joins the vaults of two snapshots and classifies liquidations.
// It holds no mutable state and may be shared between goroutines.
type Matcher struct {
	index *liquidation.Index
	opts  Options
}

// NewMatcher builds a matcher over a liquidation index.
func NewMatcher(index *liquidation.Index, opts Options) *Matcher {
	if opts.CollateralType == "" {
		opts.CollateralType = DefaultCollateralType
	}
	if opts.TieBreak == "" {
		opts.TieBreak = liquidation.TieBreakEarliest
	}
	if opts.MissingVault == "" {
		opts.MissingVault = MissingVaultFlag
	}
	return &Matcher{index: index, opts: opts}
}

// CollateralType returns the analysed collateral type.
func (m *Matcher) CollateralType() string {
	return m.opts.CollateralType
}

// Match builds the transitions of one block pair. It fails only when a
// snapshot lacks the analysed collateral type; per-vault problems skip
// or flag the vault.
func (m *Matcher) Match(pair vault.BlockPair) (*Result, error) {
	first, err := m.set(pair.First, pair.FirstBlock)
	if err != nil {
		return nil, err
	}
	second, err := m.set(pair.Second, pair.SecondBlock)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Meta:        metadata(pair, first, second),
		Transitions: make([]Transition, 0, len(first.Vaults)),
	}

	secondByID := make(map[string]*vault.Record, len(second.Vaults))
	for i := range second.Vaults {
		secondByID[second.Vaults[i].ID] = &second.Vaults[i]
	}

	from, fromErr := vault.ParseTimestamp("first timestamp", first.Timestamp)
	to, toErr := vault.ParseTimestamp("second timestamp", second.Timestamp)
	windowKnown := fromErr == nil && toErr == nil

	position := make(map[string]int, len(first.Vaults))
	for i := range first.Vaults {
		record := &first.Vaults[i]
		if !fundedVault(record) {
			res.Skipped++
			continue
		}

		t := Transition{ID: record.ID, First: record}
		if windowKnown {
			if ts, ok := m.index.Within(record.ID, from, to, m.opts.TieBreak); ok {
				t.Liquidated = true
				t.LiquidationTimestamp = &ts
			}
		}

		if next, ok := lookup(secondByID, record.ID); ok {
			t.Second = next
		} else {
			res.MissingSecond++
			if m.opts.MissingVault == MissingVaultSkip {
				continue
			}
		}

		// A repeated identifier replaces the earlier entry in place.
		if at, seen := position[record.ID]; seen {
			res.Transitions[at] = t
			continue
		}
		position[record.ID] = len(res.Transitions)
		res.Transitions = append(res.Transitions, t)
	}

	return res, nil
}

func (m *Matcher) set(snap vault.BlockSnapshot, block string) (*vault.Set, error) {
	set, ok := snap[m.opts.CollateralType]
	if !ok || set == nil {
		return nil, &vault.MissingCollateralTypeError{Block: block, Symbol: m.opts.CollateralType}
	}
	return set, nil
}

func lookup(byID map[string]*vault.Record, id string) (*vault.Record, bool) {
	record, ok := byID[id]
	return record, ok
}

// fundedVault reports whether both amounts parse and are strictly positive.
func fundedVault(record *vault.Record) bool {
	collateral, err := vault.ParseAmount("collateral", record.Collateral)
	if err != nil || collateral <= 0 {
		return false
	}
	debt, err := vault.ParseAmount("debt", record.Debt)
	if err != nil || debt <= 0 {
		return false
	}
	return true
}

func metadata(pair vault.BlockPair, first, second *vault.Set) Metadata {
	return Metadata{
		FirstBlock:            pair.FirstBlock,
		FirstTimestamp:        first.Timestamp,
		FirstPrice:            first.Price.String(),
		FirstRate:             first.Rate,
		FirstLiquidationRatio: first.LiquidationRatio,

		SecondBlock:            pair.SecondBlock,
		SecondTimestamp:        second.Timestamp,
		SecondPrice:            second.Price.String(),
		SecondRate:             second.Rate,
		SecondLiquidationRatio: second.LiquidationRatio,
	}
}
