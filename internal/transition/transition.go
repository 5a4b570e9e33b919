package transition

import (
	"encoding/json"

	"vault-risk-backtest/internal/vault"
)

// Metadata describes the two blocks of a pair in string form.
type Metadata struct {
	FirstBlock            string `json:"firstBlock"`
	FirstTimestamp        string `json:"firstTimestamp"`
	FirstPrice            string `json:"firstPrice"`
	FirstRate             string `json:"firstRate"`
	FirstLiquidationRatio string `json:"firstLiquidationRatio"`

	SecondBlock            string `json:"secondBlock"`
	SecondTimestamp        string `json:"secondTimestamp"`
	SecondPrice            string `json:"secondPrice"`
	SecondRate             string `json:"secondRate"`
	SecondLiquidationRatio string `json:"secondLiquidationRatio"`
}

// Transition is one vault's passage from the first to the second snapshot.
// Second is nil when the vault no longer exists in the later snapshot.
type Transition struct {
	ID                   string        `json:"-"`
	First                *vault.Record `json:"first"`
	Second               *vault.Record `json:"second"`
	Liquidated           bool          `json:"liquidated"`
	LiquidationTimestamp *uint64       `json:"liquidationTimestamp"`
}

// Closed reports whether the vault had no counterpart in the second snapshot.
func (t Transition) Closed() bool {
	return t.Second == nil
}

// Result holds every transition of one block pair, in first-snapshot order.
type Result struct {
	Meta        Metadata
	Transitions []Transition

	// MissingSecond counts vaults absent from the second snapshot.
	MissingSecond int
	// Skipped counts first-snapshot vaults without positive, parseable amounts.
	Skipped int
}

// Liquidated reports whether any transition in the pair was liquidated.
func (r *Result) Liquidated() bool {
	for _, t := range r.Transitions {
		if t.Liquidated {
			return true
		}
	}
	return false
}

// LiquidatedCount counts liquidated transitions.
func (r *Result) LiquidatedCount() int {
	n := 0
	for _, t := range r.Transitions {
		if t.Liquidated {
			n++
		}
	}
	return n
}

// MarshalJSON renders the result keyed by vault identifier. Keys are
// emitted in sorted order by encoding/json.
func (r *Result) MarshalJSON() ([]byte, error) {
	byID := make(map[string]Transition, len(r.Transitions))
	for _, t := range r.Transitions {
		byID[t.ID] = t
	}
	return json.Marshal(struct {
		Meta            Metadata              `json:"meta"`
		VaultTransition map[string]Transition `json:"vaultTransition"`
	}{
		Meta:            r.Meta,
		VaultTransition: byID,
	})
}
