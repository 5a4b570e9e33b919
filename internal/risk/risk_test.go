package risk

import (
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-risk-backtest/internal/transition"
	"vault-risk-backtest/internal/vault"
)

func meta(firstPrice, secondPrice string) transition.Metadata {
	return transition.Metadata{
		FirstBlock: "100", FirstTimestamp: "1000", FirstPrice: firstPrice, FirstRate: "1.0", FirstLiquidationRatio: "1.5",
		SecondBlock: "200", SecondTimestamp: "2000", SecondPrice: secondPrice, SecondRate: "1.0", SecondLiquidationRatio: "1.5",
	}
}

func tr(id, collateral, debt string, liquidated bool) transition.Transition {
	rec := &vault.Record{ID: id, Collateral: collateral, Debt: debt}
	return transition.Transition{ID: id, First: rec, Second: rec, Liquidated: liquidated}
}

func TestEndToEndScenario(t *testing.T) {
	res := &transition.Result{
		Meta: meta("1000", "900"),
		Transitions: []transition.Transition{
			tr("safe", "1", "500", false),
			tr("risky", "1", "1000", true),
		},
	}

	m := Evaluate(res)
	assert.Equal(t, StatusScored, m.Status)
	assert.InDelta(t, 0.9, m.PriceDropRatio, 1e-12)
	assert.Equal(t, 1000.0, m.Estimated)
	assert.Equal(t, 1000.0, m.Realized)
	assert.Equal(t, 0.0, m.Deviation)
	assert.Equal(t, 2, m.Vaults)
	assert.True(t, m.Liquidated())
}

func TestDeviationIsRelativeToEstimate(t *testing.T) {
	res := &transition.Result{
		Meta: meta("1000", "900"),
		Transitions: []transition.Transition{
			tr("a", "1", "1000", false),
			tr("b", "1", "1000", false),
			tr("c", "10", "100", true),
		},
	}

	m := Evaluate(res)
	require.Equal(t, StatusScored, m.Status)
	assert.Equal(t, 2000.0, m.Estimated)
	assert.Equal(t, 100.0, m.Realized)
	assert.InDelta(t, 0.95, m.Deviation, 1e-12)
}

func TestNoPriceDropIsNotScored(t *testing.T) {
	for _, prices := range [][2]string{{"1000", "1000"}, {"1000", "1100"}, {"0", "0"}} {
		res := &transition.Result{Meta: meta(prices[0], prices[1]), Transitions: []transition.Transition{tr("a", "1", "1000", true)}}
		m := Evaluate(res)
		assert.Equal(t, StatusNoPriceDrop, m.Status, prices)
		assert.Zero(t, m.Estimated)
	}
}

func TestUnparseablePrice(t *testing.T) {
	res := &transition.Result{Meta: meta("NaN", "900")}
	assert.Equal(t, StatusPriceUnparseable, Evaluate(res).Status)
}

func TestZeroEstimateExcluded(t *testing.T) {
	res := &transition.Result{
		Meta:        meta("1000", "900"),
		Transitions: []transition.Transition{tr("safe", "10", "100", true)},
	}
	m := Evaluate(res)
	assert.Equal(t, StatusNoEstimatedRisk, m.Status)
	assert.Equal(t, 100.0, m.Realized)

	agg := NewAggregator(zerolog.Nop())
	agg.Add(m)
	s := agg.Summary()
	assert.Equal(t, 0, s.ValidPoints)
	assert.Equal(t, 1, s.NoEstimatedRisk)
	assert.False(t, s.Valid)
	assert.Zero(t, s.MeanDeviationPct)
}

func TestUnparseableInputsContributeZero(t *testing.T) {
	res := &transition.Result{
		Meta: meta("1000", "900"),
		Transitions: []transition.Transition{
			tr("bad", "x", "1000", true),
			tr("ok", "1", "1000", false),
		},
	}
	assert.Equal(t, 1000.0, EstimatedAtRisk(res, 900))

	res.Meta.FirstRate = "?"
	assert.Zero(t, EstimatedAtRisk(res, 900))

	res.Transitions[0].First.Debt = "?"
	assert.Zero(t, RealizedAtRisk(res))
}

func TestAggregatorExcludesNaN(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	agg.Add(PairMetrics{Status: StatusScored, Deviation: 0.5})
	agg.Add(PairMetrics{Status: StatusNaN})
	agg.Add(PairMetrics{Status: StatusScored, Deviation: 0.1})

	s := agg.Summary()
	assert.Equal(t, 3, s.Pairs)
	assert.Equal(t, 2, s.ValidPoints)
	assert.Equal(t, 1, s.NaNDeviations)
	assert.InDelta(t, 0.6, s.DeviationSum, 1e-12)
	assert.InDelta(t, 30.0, s.MeanDeviationPct, 1e-9)
	assert.True(t, s.Valid)
}

func TestAggregatorCountsFailures(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	m := agg.AddFailure(3, "100", "200", errors.New("boom"))
	assert.Equal(t, StatusFailed, m.Status)
	assert.Equal(t, "boom", m.Error)

	s := agg.Summary()
	assert.Equal(t, 1, s.Pairs)
	assert.Equal(t, 1, s.FailedPairs)
}

func TestFoldIsReproducible(t *testing.T) {
	results := []*transition.Result{
		{Meta: meta("1000", "900"), Transitions: []transition.Transition{tr("a", "1", "1000", false), tr("b", "1", "1300", true)}},
		{Meta: meta("1000", "1200"), Transitions: []transition.Transition{tr("a", "1", "1000", true)}},
		{Meta: meta("2000", "1500"), Transitions: []transition.Transition{tr("a", "1", "1100", true), tr("c", "3", "1000", false)}},
	}

	first := Fold(slices.Values(results), zerolog.Nop())
	second := Fold(slices.Values(results), zerolog.Nop())
	assert.Equal(t, first, second)
	assert.Equal(t, 3, first.Pairs)
	assert.Equal(t, 2, first.ValidPoints)
	assert.Equal(t, 1, first.NoPriceDrop)
	assert.Equal(t, 3, first.PairsWithLiquidations)
}
