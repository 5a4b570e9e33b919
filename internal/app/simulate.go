package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"vault-risk-backtest/internal/alerting"
)

// SimulateAlert runs the end-of-run alert path for a given mean deviation.
func (a *App) SimulateAlert(ctx context.Context, meanPct decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	note := alerting.Notification{
		FinishedAt:       time.Now().UTC(),
		CollateralType:   a.Config.Analysis.CollateralType,
		WindowBlocks:     a.Config.Analysis.Window,
		MeanDeviationPct: meanPct,
		ThresholdPct:     decimal.NewFromFloat(a.Config.Alerting.ThresholdPct),
		Channels:         a.Config.Alerting.Channels,
		AdditionalMsg:    "(simulated)",
	}
	if !note.Exceeds() {
		a.Logger.Info().
			Str("mean_pct", meanPct.String()).
			Str("threshold_pct", note.ThresholdPct.String()).
			Msg("mean deviation below threshold; no alert")
		return nil
	}
	return notifier.Notify(ctx, note)
}
