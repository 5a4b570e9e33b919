package transition

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-risk-backtest/internal/liquidation"
	"vault-risk-backtest/internal/vault"
)

func record(id, collateral, debt string) vault.Record {
	return vault.Record{ID: id, Collateral: collateral, Debt: debt, SafetyLevel: "safe"}
}

func blockPair(firstTS, secondTS string, first, second []vault.Record) vault.BlockPair {
	return vault.BlockPair{
		FirstHeight:  100,
		SecondHeight: 200,
		FirstBlock:   "100",
		SecondBlock:  "200",
		First: vault.BlockSnapshot{DefaultCollateralType: &vault.Set{
			Timestamp: firstTS, Price: 1000, Rate: "1.0", LiquidationRatio: "1.5", Vaults: first,
		}},
		Second: vault.BlockSnapshot{DefaultCollateralType: &vault.Set{
			Timestamp: secondTS, Price: 900, Rate: "1.1", LiquidationRatio: "1.5", Vaults: second,
		}},
	}
}

func index(byVault map[string][]string) *liquidation.Index {
	history := make(map[string]vault.History, len(byVault))
	for id, stamps := range byVault {
		logs := make([]vault.Log, 0, len(stamps))
		for _, ts := range stamps {
			logs = append(logs, vault.Log{TypeName: liquidation.DefaultStartTag, Timestamp: ts})
		}
		history[id] = vault.History{Vaults: []vault.LoggedVault{{Logs: logs}}}
	}
	return liquidation.Build(history, liquidation.DefaultStartTag)
}

func TestMatchClassifiesLiquidations(t *testing.T) {
	idx := index(map[string][]string{
		"hit":  {"500", "1500", "2500"},
		"miss": {"500", "2500"},
	})
	m := NewMatcher(idx, Options{})

	vaults := []vault.Record{record("hit", "1", "500"), record("miss", "1", "500"), record("never", "2", "10")}
	res, err := m.Match(blockPair("1000", "2000", vaults, vaults))
	require.NoError(t, err)
	require.Len(t, res.Transitions, 3)

	hit := res.Transitions[0]
	assert.Equal(t, "hit", hit.ID)
	assert.True(t, hit.Liquidated)
	require.NotNil(t, hit.LiquidationTimestamp)
	assert.Equal(t, uint64(1500), *hit.LiquidationTimestamp)

	assert.False(t, res.Transitions[1].Liquidated)
	assert.Nil(t, res.Transitions[1].LiquidationTimestamp)
	assert.False(t, res.Transitions[2].Liquidated)

	assert.True(t, res.Liquidated())
	assert.Equal(t, 1, res.LiquidatedCount())
}

func TestMatchSkipsUnfundedVaults(t *testing.T) {
	m := NewMatcher(index(nil), Options{})
	first := []vault.Record{
		record("zero-collateral", "0", "100"),
		record("zero-debt", "5", "0"),
		record("negative", "-1", "100"),
		record("garbage", "abc", "100"),
		record("ok", "1", "1"),
	}
	second := []vault.Record{record("zero-collateral", "100", "100")}

	res, err := m.Match(blockPair("1000", "2000", first, second))
	require.NoError(t, err)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, "ok", res.Transitions[0].ID)
	assert.Equal(t, 4, res.Skipped)
}

func TestMatchJoinsSecondSnapshot(t *testing.T) {
	m := NewMatcher(index(nil), Options{})
	first := []vault.Record{record("a", "1", "10"), record("gone", "1", "10")}
	second := []vault.Record{record("a", "2", "20")}

	res, err := m.Match(blockPair("1000", "2000", first, second))
	require.NoError(t, err)
	require.Len(t, res.Transitions, 2)

	require.NotNil(t, res.Transitions[0].Second)
	assert.Equal(t, "2", res.Transitions[0].Second.Collateral)
	assert.Same(t, &first[0], res.Transitions[0].First)

	assert.True(t, res.Transitions[1].Closed())
	assert.Equal(t, 1, res.MissingSecond)
}

func TestMatchSkipPolicyDropsClosedVaults(t *testing.T) {
	m := NewMatcher(index(nil), Options{MissingVault: MissingVaultSkip})
	first := []vault.Record{record("a", "1", "10"), record("gone", "1", "10")}
	second := []vault.Record{record("a", "2", "20")}

	res, err := m.Match(blockPair("1000", "2000", first, second))
	require.NoError(t, err)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, 1, res.MissingSecond)
}

func TestMatchUnparseableTimestampsMeanNotLiquidated(t *testing.T) {
	m := NewMatcher(index(map[string][]string{"v": {"1500"}}), Options{})
	vaults := []vault.Record{record("v", "1", "10")}

	for _, ts := range [][2]string{{"x", "2000"}, {"1000", "y"}, {"x", "y"}} {
		res, err := m.Match(blockPair(ts[0], ts[1], vaults, vaults))
		require.NoError(t, err)
		require.Len(t, res.Transitions, 1)
		assert.False(t, res.Transitions[0].Liquidated, ts)
	}
}

func TestMatchMissingCollateralType(t *testing.T) {
	m := NewMatcher(index(nil), Options{CollateralType: "WBTC-A"})
	_, err := m.Match(blockPair("1000", "2000", nil, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, vault.ErrMissingCollateralType))

	var typed *vault.MissingCollateralTypeError
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "100", typed.Block)
}

func TestMatchMetadata(t *testing.T) {
	m := NewMatcher(index(nil), Options{})
	res, err := m.Match(blockPair("1000", "2000", nil, nil))
	require.NoError(t, err)

	assert.Equal(t, Metadata{
		FirstBlock: "100", FirstTimestamp: "1000", FirstPrice: "1000", FirstRate: "1.0", FirstLiquidationRatio: "1.5",
		SecondBlock: "200", SecondTimestamp: "2000", SecondPrice: "900", SecondRate: "1.1", SecondLiquidationRatio: "1.5",
	}, res.Meta)
}

func TestResultJSON(t *testing.T) {
	m := NewMatcher(index(map[string][]string{"b": {"1500"}}), Options{})
	first := []vault.Record{record("b", "1", "10"), record("a", "1", "10")}
	second := []vault.Record{record("b", "1", "10")}

	res, err := m.Match(blockPair("1000", "2000", first, second))
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded struct {
		Meta            Metadata `json:"meta"`
		VaultTransition map[string]struct {
			First                *vault.Record `json:"first"`
			Second               *vault.Record `json:"second"`
			Liquidated           bool          `json:"liquidated"`
			LiquidationTimestamp *uint64       `json:"liquidationTimestamp"`
		} `json:"vaultTransition"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "100", decoded.Meta.FirstBlock)
	require.Len(t, decoded.VaultTransition, 2)
	assert.True(t, decoded.VaultTransition["b"].Liquidated)
	assert.Equal(t, uint64(1500), *decoded.VaultTransition["b"].LiquidationTimestamp)
	assert.Nil(t, decoded.VaultTransition["a"].Second)

	again, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}
