package risk

import (
	"iter"

	"github.com/rs/zerolog"

	"vault-risk-backtest/internal/transition"
)

// Summary is the fold of every processed block pair.
type Summary struct {
	Pairs       int
	FailedPairs int

	DeviationSum     float64
	ValidPoints      int
	MeanDeviationPct float64
	// Valid is false when no pair produced a usable deviation.
	Valid bool

	PriceUnparseable      int
	NoPriceDrop           int
	NoEstimatedRisk       int
	NaNDeviations         int
	PairsWithLiquidations int
	MissingSecond         int
}

// Aggregator folds per-pair metrics into a Summary. Pairs must be added in
// enumeration order to keep the floating point sum reproducible. It is not
// safe for concurrent use.
type Aggregator struct {
	logger  zerolog.Logger
	summary Summary
}

// NewAggregator constructs an empty aggregator.
func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{logger: logger.With().Str("component", "risk_aggregator").Logger()}
}

// Add folds the metrics of one pair.
func (a *Aggregator) Add(m PairMetrics) {
	s := &a.summary
	s.Pairs++
	s.MissingSecond += m.MissingSecond

	if m.Liquidated() {
		s.PairsWithLiquidations++
		a.logger.Info().
			Int("index", m.Index).
			Str("first_block", m.FirstBlock).
			Str("second_block", m.SecondBlock).
			Int("vaults", m.Vaults).
			Int("liquidated", m.LiquidatedVaults).
			Msg("pair includes liquidated vaults")
	}

	switch m.Status {
	case StatusScored:
		s.DeviationSum += m.Deviation
		s.ValidPoints++
		a.logger.Debug().
			Int("index", m.Index).
			Str("first_block", m.FirstBlock).
			Str("second_block", m.SecondBlock).
			Float64("price_drop_ratio", m.PriceDropRatio).
			Float64("estimated", m.Estimated).
			Float64("realized", m.Realized).
			Float64("deviation", m.Deviation).
			Int("vaults", m.Vaults).
			Msg("pair scored")
	case StatusNaN:
		s.NaNDeviations++
		a.logger.Warn().
			Int("index", m.Index).
			Str("first_block", m.FirstBlock).
			Str("second_block", m.SecondBlock).
			Float64("estimated", m.Estimated).
			Float64("realized", m.Realized).
			Msg("deviation is NaN; excluded")
	case StatusNoEstimatedRisk:
		s.NoEstimatedRisk++
	case StatusNoPriceDrop:
		s.NoPriceDrop++
	case StatusPriceUnparseable:
		s.PriceUnparseable++
	case StatusFailed:
		s.FailedPairs++
	}
}

// AddFailure records a pair that could not be matched.
func (a *Aggregator) AddFailure(index int, firstBlock, secondBlock string, err error) PairMetrics {
	m := PairMetrics{
		Index:       index,
		FirstBlock:  firstBlock,
		SecondBlock: secondBlock,
		Status:      StatusFailed,
		Error:       err.Error(),
	}
	a.logger.Error().Err(err).
		Int("index", index).
		Str("first_block", firstBlock).
		Str("second_block", secondBlock).
		Msg("pair failed")
	a.Add(m)
	return m
}

// Summary returns the current fold. The mean is expressed in percent.
func (a *Aggregator) Summary() Summary {
	s := a.summary
	if s.ValidPoints > 0 {
		s.MeanDeviationPct = s.DeviationSum / float64(s.ValidPoints) * 100
		s.Valid = true
	}
	return s
}

// Fold evaluates and aggregates a sequence of transition sets in order.
func Fold(results iter.Seq[*transition.Result], logger zerolog.Logger) Summary {
	agg := NewAggregator(logger)
	i := 0
	for res := range results {
		m := Evaluate(res)
		m.Index = i
		agg.Add(m)
		i++
	}
	return agg.Summary()
}
