package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"vault-risk-backtest/internal/storage"
)

// Export renders the pair metrics of a run as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var run storage.RunRecord
	if opts.RunID > 0 {
		run, err = store.FindRun(ctx, opts.RunID)
	} else {
		run, err = store.LatestRun(ctx)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.New("no matching analysis run found")
	}
	if err != nil {
		return err
	}

	records, err := store.ListPairMetrics(ctx, run.ID, opts.Status)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Int64("run_id", run.ID).Msg("run has no pair metrics to export")
		return nil
	}

	downsampled := downsample(records, opts.MaxPoints)
	a.Logger.Info().
		Int64("run_id", run.ID).
		Int("total", len(records)).
		Int("exported", len(downsampled)).
		Msg("exporting pair metrics")

	if opts.CSVPath != "" {
		if err := writePairsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePairsPNG(opts.PNGPath, run, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[:1]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writePairsCSV(path string, records []storage.PairRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"pair_index", "first_block", "second_block", "status", "price_drop_ratio", "estimated", "realized", "deviation", "vaults", "liquidated_vaults", "missing_second", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		errMsg := ""
		if rec.Error != nil {
			errMsg = *rec.Error
		}
		row := []string{
			strconv.Itoa(rec.PairIndex),
			rec.FirstBlock,
			rec.SecondBlock,
			rec.Status,
			optionalString(rec.PriceDropRatio),
			rec.Estimated.String(),
			rec.Realized.String(),
			optionalString(rec.Deviation),
			strconv.Itoa(rec.Vaults),
			strconv.Itoa(rec.LiquidatedVaults),
			strconv.Itoa(rec.MissingSecond),
			errMsg,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writePairsPNG(path string, run storage.RunRecord, records []storage.PairRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]float64, len(records))
	estimated := make([]float64, len(records))
	realized := make([]float64, len(records))

	devX := make([]float64, 0, len(records))
	deviation := make([]float64, 0, len(records))

	for i, rec := range records {
		x[i] = float64(rec.PairIndex)
		estimated[i] = rec.Estimated.InexactFloat64()
		realized[i] = rec.Realized.InexactFloat64()
		if rec.Deviation != nil {
			devX = append(devX, float64(rec.PairIndex))
			deviation = append(deviation, rec.Deviation.Mul(decimal.NewFromInt(100)).InexactFloat64())
		}
	}

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "Estimated at risk",
			XValues: x,
			YValues: estimated,
		},
		chart.ContinuousSeries{
			Name:    "Realized at risk",
			XValues: x,
			YValues: realized,
		},
	}
	if len(deviation) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name:    "Deviation %",
			XValues: devX,
			YValues: deviation,
			YAxis:   chart.YAxisSecondary,
		})
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("Run #%d %s (window %d)", run.ID, run.CollateralType, run.WindowBlocks),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "Pair index",
			ValueFormatter: amountFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Debt at risk",
			ValueFormatter: amountFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Deviation (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func optionalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
