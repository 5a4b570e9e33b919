package pairs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-risk-backtest/internal/vault"
)

func snapshots(keys ...string) vault.Snapshots {
	out := make(vault.Snapshots, len(keys))
	for _, k := range keys {
		out[k] = vault.BlockSnapshot{}
	}
	return out
}

func collect(g *Generator) [][2]uint64 {
	var out [][2]uint64
	for p := range g.All() {
		out = append(out, [2]uint64{p.FirstHeight, p.SecondHeight})
	}
	return out
}

func TestWindowExample(t *testing.T) {
	g := New(snapshots("100", "139000", "200000"), DefaultWindow)
	assert.Equal(t, [][2]uint64{{100, 139000}}, collect(g))
	assert.Equal(t, 1, g.Count())
}

func TestPairsRespectOrderAndWindow(t *testing.T) {
	keys := []string{"5", "10", "40004", "40005", "80000", "80001", "1"}
	g := New(snapshots(keys...), DefaultWindow)

	got := collect(g)
	require.NotEmpty(t, got)
	for _, p := range got {
		assert.Less(t, p[0], p[1])
		assert.Less(t, p[1]-p[0], DefaultWindow)
	}

	expected := 0
	for _, a := range []uint64{1, 5, 10, 40004, 40005, 80000, 80001} {
		for _, b := range []uint64{1, 5, 10, 40004, 40005, 80000, 80001} {
			if a < b && b-a < DefaultWindow {
				expected++
			}
		}
	}
	assert.Len(t, got, expected)
	assert.Equal(t, expected, g.Count())
}

func TestSkipsUnparseableKeys(t *testing.T) {
	g := New(snapshots("100", "abc", "-5", "200"), DefaultWindow)
	assert.Equal(t, []string{"-5", "abc"}, g.Skipped())
	assert.Equal(t, 2, g.Blocks())
	assert.Equal(t, [][2]uint64{{100, 200}}, collect(g))
}

func TestEqualHeightsNeverPair(t *testing.T) {
	g := New(snapshots("100", "0100", "150"), DefaultWindow)
	for _, p := range collect(g) {
		assert.NotEqual(t, p[0], p[1])
	}
	assert.Len(t, collect(g), 2)
}

func TestEarlyStopAndRestart(t *testing.T) {
	g := New(snapshots("1", "2", "3", "4"), DefaultWindow)

	n := 0
	for range g.All() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
	assert.Len(t, collect(g), 6)
}

func TestPairReferencesSnapshots(t *testing.T) {
	snaps := vault.Snapshots{
		"1": vault.BlockSnapshot{"ETH-A": &vault.Set{Timestamp: "10"}},
		"2": vault.BlockSnapshot{"ETH-A": &vault.Set{Timestamp: "20"}},
	}
	for p := range Enumerate(snaps, 0) {
		assert.Same(t, snaps["1"]["ETH-A"], p.First["ETH-A"])
		assert.Same(t, snaps["2"]["ETH-A"], p.Second["ETH-A"])
		assert.Equal(t, "1", p.FirstBlock)
		assert.Equal(t, "2", p.SecondBlock)
	}
}
