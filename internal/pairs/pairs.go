// Package pairs enumerates the block pairs analysed by a run.
//
// Every ordered pair (a, b) of loaded heights with a < b and b-a < window
// is a candidate, so the pair count grows as O(n^2) in the number of
// loaded blocks and dominates the running time of an analysis. Heights are
// sorted once so the inner scan stops at the first height outside the
// window, and pairs are yielded lazily: composed with a consumer that does
// not retain them, memory stays bounded by one pair at a time.
package pairs

import (
	"iter"
	"sort"

	"vault-risk-backtest/internal/vault"
)

// DefaultWindow approximates one week of Ethereum blocks.
const DefaultWindow uint64 = 40000

type height struct {
	value uint64
	key   string
}

// Generator yields the block pairs of a snapshot set. It is restartable:
// every call to All starts a fresh enumeration.
type Generator struct {
	snapshots vault.Snapshots
	heights   []height
	skipped   []string
	window    uint64
}

// New prepares a generator over the loaded snapshots. Keys that are not
// unsigned integers are skipped.
func New(snapshots vault.Snapshots, window uint64) *Generator {
	if window == 0 {
		window = DefaultWindow
	}

	g := &Generator{snapshots: snapshots, window: window}
	for key := range snapshots {
		h, err := vault.ParseHeight(key)
		if err != nil {
			g.skipped = append(g.skipped, key)
			continue
		}
		g.heights = append(g.heights, height{value: h, key: key})
	}

	sort.Slice(g.heights, func(i, j int) bool {
		if g.heights[i].value != g.heights[j].value {
			return g.heights[i].value < g.heights[j].value
		}
		return g.heights[i].key < g.heights[j].key
	})
	sort.Strings(g.skipped)
	return g
}

// Window returns the exclusive maximum height distance of a pair.
func (g *Generator) Window() uint64 {
	return g.window
}

// Blocks returns the number of usable heights.
func (g *Generator) Blocks() int {
	return len(g.heights)
}

// Skipped returns the keys that did not parse as block heights.
func (g *Generator) Skipped() []string {
	return g.skipped
}

// All yields pairs ordered by first height, then second height.
func (g *Generator) All() iter.Seq[vault.BlockPair] {
	return func(yield func(vault.BlockPair) bool) {
		for i, first := range g.heights {
			for _, second := range g.heights[i+1:] {
				if second.value == first.value {
					continue
				}
				if second.value-first.value >= g.window {
					break
				}
				pair := vault.BlockPair{
					FirstHeight:  first.value,
					SecondHeight: second.value,
					FirstBlock:   first.key,
					SecondBlock:  second.key,
					First:        g.snapshots[first.key],
					Second:       g.snapshots[second.key],
				}
				if !yield(pair) {
					return
				}
			}
		}
	}
}

// Count walks the enumeration without building pairs.
func (g *Generator) Count() int {
	n := 0
	for i, first := range g.heights {
		for _, second := range g.heights[i+1:] {
			if second.value == first.value {
				continue
			}
			if second.value-first.value >= g.window {
				break
			}
			n++
		}
	}
	return n
}

// Enumerate is a shorthand for New(snapshots, window).All().
func Enumerate(snapshots vault.Snapshots, window uint64) iter.Seq[vault.BlockPair] {
	return New(snapshots, window).All()
}
