package storage

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"vault-risk-backtest/internal/risk"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusErrored  = "errored"
)

// RunRecord represents one persisted analysis run.
type RunRecord struct {
	ID               int64
	StartedAt        time.Time
	FinishedAt       *time.Time
	CollateralType   string
	WindowBlocks     int64
	Blocks           int
	FailedBlocks     int
	Pairs            int
	FailedPairs      int
	ValidPoints      int
	DeviationSum     decimal.Decimal
	MeanDeviationPct *decimal.Decimal
	Status           string
	Error            *string
	CreatedAt        time.Time
}

// ApplySummary copies the fold of a run onto the record.
func (r *RunRecord) ApplySummary(s risk.Summary) {
	r.Pairs = s.Pairs
	r.FailedPairs = s.FailedPairs
	r.ValidPoints = s.ValidPoints
	r.DeviationSum = finiteOrZero(s.DeviationSum)
	r.MeanDeviationPct = nil
	if s.Valid {
		mean := finiteOrZero(s.MeanDeviationPct)
		r.MeanDeviationPct = &mean
	}
}

// PairRecord is the persisted form of one pair's metrics.
type PairRecord struct {
	RunID            int64
	PairIndex        int
	FirstBlock       string
	SecondBlock      string
	Status           string
	PriceDropRatio   *decimal.Decimal
	Estimated        decimal.Decimal
	Realized         decimal.Decimal
	Deviation        *decimal.Decimal
	Vaults           int
	LiquidatedVaults int
	MissingSecond    int
	Error            *string
}

// NewPairRecord converts pair metrics for storage. Values that are not
// finite are stored as NULL.
func NewPairRecord(runID int64, m risk.PairMetrics) PairRecord {
	rec := PairRecord{
		RunID:            runID,
		PairIndex:        m.Index,
		FirstBlock:       m.FirstBlock,
		SecondBlock:      m.SecondBlock,
		Status:           string(m.Status),
		PriceDropRatio:   finite(m.PriceDropRatio),
		Estimated:        finiteOrZero(m.Estimated),
		Realized:         finiteOrZero(m.Realized),
		Vaults:           m.Vaults,
		LiquidatedVaults: m.LiquidatedVaults,
		MissingSecond:    m.MissingSecond,
	}
	if m.Status == risk.StatusScored {
		rec.Deviation = finite(m.Deviation)
	}
	if m.Error != "" {
		msg := m.Error
		rec.Error = &msg
	}
	return rec
}

func finite(f float64) *decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	d := decimal.NewFromFloat(f)
	return &d
}

func finiteOrZero(f float64) decimal.Decimal {
	if d := finite(f); d != nil {
		return *d
	}
	return decimal.Zero
}
