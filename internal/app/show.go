package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"vault-risk-backtest/internal/storage"
)

// Show prints recent analysis runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out(), "no runs found")
		return nil
	}

	writeRuns(a.out(), runs)
	return nil
}

func writeRuns(w io.Writer, runs []storage.RunRecord) {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tStarted (UTC)\tCollateral\tWindow\tBlocks\tPairs\tValid\tMeanDeviation%\tStatus\tError")

	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			run.ID,
			run.StartedAt.UTC().Format(time.RFC3339),
			run.CollateralType,
			run.WindowBlocks,
			withFailures(run.Blocks, run.FailedBlocks),
			withFailures(run.Pairs, run.FailedPairs),
			run.ValidPoints,
			formatOptional(run.MeanDeviationPct, 3),
			run.Status,
			errMsg,
		)
	}

	writer.Flush()
}

func withFailures(total, failed int) string {
	if failed == 0 {
		return strconv.Itoa(total)
	}
	return fmt.Sprintf("%d (%d failed)", total, failed)
}

func formatOptional(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
