package liquidation

import (
	"fmt"
	"slices"

	"vault-risk-backtest/internal/vault"
)

// DefaultStartTag marks a liquidation-start entry in a vault's event log.
const DefaultStartTag = "liquidationStartLog"

// TieBreak selects which qualifying liquidation wins when several fall
// inside a pair's window.
type TieBreak string

const (
	// TieBreakEarliest picks the smallest qualifying timestamp.
	TieBreakEarliest TieBreak = "earliest"
	// TieBreakSource picks the first qualifying timestamp in log order.
	TieBreakSource TieBreak = "source"
)

// ParseTieBreak validates a configured tie-break name.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case TieBreakEarliest, "":
		return TieBreakEarliest, nil
	case TieBreakSource:
		return TieBreakSource, nil
	default:
		return "", fmt.Errorf("unknown tie-break %q", s)
	}
}

// Index maps vault identifiers to their liquidation-start timestamps.
// It is immutable after Build and safe for concurrent readers.
type Index struct {
	source map[string][]uint64
	sorted map[string][]uint64
	// Unparseable counts liquidation entries whose timestamp was dropped.
	Unparseable int
}

// Build derives the index from a vault history. Entries of every logged
// vault under an identifier are taken in order; timestamps that fail to
// parse are dropped.
func Build(history map[string]vault.History, tag string) *Index {
	if tag == "" {
		tag = DefaultStartTag
	}

	idx := &Index{
		source: make(map[string][]uint64, len(history)),
		sorted: make(map[string][]uint64, len(history)),
	}
	for id, h := range history {
		var stamps []uint64
		for _, v := range h.Vaults {
			for _, entry := range v.Logs {
				if entry.TypeName != tag {
					continue
				}
				ts, err := vault.ParseTimestamp("liquidation timestamp", entry.Timestamp)
				if err != nil {
					idx.Unparseable++
					continue
				}
				stamps = append(stamps, ts)
			}
		}
		idx.source[id] = stamps

		ordered := slices.Clone(stamps)
		slices.Sort(ordered)
		idx.sorted[id] = ordered
	}
	return idx
}

// Len returns the number of indexed vaults.
func (i *Index) Len() int {
	return len(i.source)
}

// Timestamps returns the liquidation timestamps of a vault in log order.
// Unknown vaults yield an empty slice.
func (i *Index) Timestamps(id string) []uint64 {
	if i == nil {
		return nil
	}
	return i.source[id]
}

// CollateralTypes counts indexed vaults per collateral type parsed from
// their identifiers. Identifiers that do not parse count under "".
func (i *Index) CollateralTypes() map[string]int {
	counts := make(map[string]int)
	for id := range i.source {
		parsed, err := vault.ParseID(id)
		if err != nil {
			counts[""]++
			continue
		}
		counts[parsed.CollateralType]++
	}
	return counts
}

// Within returns the liquidation timestamp of a vault that lies strictly
// between from and to, choosing among several by tb.
func (i *Index) Within(id string, from, to uint64, tb TieBreak) (uint64, bool) {
	if i == nil {
		return 0, false
	}
	stamps := i.source[id]
	if tb != TieBreakSource {
		stamps = i.sorted[id]
	}
	return FirstWithin(stamps, from, to)
}

// FirstWithin returns the first timestamp ts in stamps with from < ts < to.
func FirstWithin(stamps []uint64, from, to uint64) (uint64, bool) {
	for _, ts := range stamps {
		if from < ts && ts < to {
			return ts, true
		}
	}
	return 0, false
}
