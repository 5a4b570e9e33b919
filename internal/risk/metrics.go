package risk

import (
	"math"

	"vault-risk-backtest/internal/transition"
	"vault-risk-backtest/internal/vault"
)

// Status classifies how a pair contributed to the summary.
type Status string

const (
	// StatusScored pairs contribute a deviation to the mean.
	StatusScored Status = "scored"
	// StatusPriceUnparseable pairs have a price that is not a number.
	StatusPriceUnparseable Status = "price_unparseable"
	// StatusNoPriceDrop pairs saw no price decline.
	StatusNoPriceDrop Status = "no_price_drop"
	// StatusNoEstimatedRisk pairs had a price drop but nothing estimated at risk.
	StatusNoEstimatedRisk Status = "no_estimated_risk"
	// StatusNaN pairs produced a deviation that is not a number.
	StatusNaN Status = "nan"
	// StatusFailed pairs could not be matched at all.
	StatusFailed Status = "failed"
)

// PairMetrics is the per-pair outcome of the risk computation.
type PairMetrics struct {
	Index       int
	FirstBlock  string
	SecondBlock string
	Status      Status

	PriceDropRatio float64
	Estimated      float64
	Realized       float64
	Deviation      float64

	Vaults           int
	LiquidatedVaults int
	MissingSecond    int
	Error            string
}

// Liquidated reports whether any vault of the pair was liquidated.
func (m PairMetrics) Liquidated() bool {
	return m.LiquidatedVaults > 0
}

// Evaluate computes the capital-at-risk metrics of one block pair.
//
// Estimated capital at risk is the debt of every vault whose collateral,
// valued at the second snapshot's price, no longer covers its debt times
// the first snapshot's liquidation ratio and rate. Realized capital at risk
// is the debt of the vaults liquidated between the snapshots.
func Evaluate(res *transition.Result) PairMetrics {
	m := PairMetrics{
		FirstBlock:       res.Meta.FirstBlock,
		SecondBlock:      res.Meta.SecondBlock,
		Vaults:           len(res.Transitions),
		LiquidatedVaults: res.LiquidatedCount(),
		MissingSecond:    res.MissingSecond,
	}

	firstPrice, err := vault.ParseAmount("first price", res.Meta.FirstPrice)
	if err != nil {
		m.Status = StatusPriceUnparseable
		return m
	}
	secondPrice, err := vault.ParseAmount("second price", res.Meta.SecondPrice)
	if err != nil {
		m.Status = StatusPriceUnparseable
		return m
	}

	m.PriceDropRatio = secondPrice / firstPrice
	if !(m.PriceDropRatio < 1.0) {
		m.Status = StatusNoPriceDrop
		return m
	}

	m.Estimated = EstimatedAtRisk(res, secondPrice)
	m.Realized = RealizedAtRisk(res)
	if !(m.Estimated > 0) {
		m.Status = StatusNoEstimatedRisk
		return m
	}

	m.Deviation = math.Abs(m.Realized-m.Estimated) / m.Estimated
	if math.IsNaN(m.Deviation) {
		m.Status = StatusNaN
		return m
	}
	m.Status = StatusScored
	return m
}

// EstimatedAtRisk sums the debt of vaults projected to be undercollateralised
// at price. Transitions with unparseable inputs contribute zero.
func EstimatedAtRisk(res *transition.Result, price float64) float64 {
	ratio, ratioErr := vault.ParseAmount("liquidation ratio", res.Meta.FirstLiquidationRatio)
	rate, rateErr := vault.ParseAmount("rate", res.Meta.FirstRate)
	if ratioErr != nil || rateErr != nil {
		return 0
	}

	total := 0.0
	for _, t := range res.Transitions {
		collateral, err := vault.ParseAmount("collateral", t.First.Collateral)
		if err != nil {
			continue
		}
		debt, err := vault.ParseAmount("debt", t.First.Debt)
		if err != nil {
			continue
		}
		if collateral*price > debt*ratio*rate {
			continue
		}
		total += debt
	}
	return total
}

// RealizedAtRisk sums the debt of liquidated vaults.
func RealizedAtRisk(res *transition.Result) float64 {
	total := 0.0
	for _, t := range res.Transitions {
		if !t.Liquidated {
			continue
		}
		debt, err := vault.ParseAmount("debt", t.First.Debt)
		if err != nil {
			continue
		}
		total += debt
	}
	return total
}
