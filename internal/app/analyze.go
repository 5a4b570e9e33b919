package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"vault-risk-backtest/internal/alerting"
	"vault-risk-backtest/internal/liquidation"
	"vault-risk-backtest/internal/pairs"
	"vault-risk-backtest/internal/pipeline"
	"vault-risk-backtest/internal/risk"
	"vault-risk-backtest/internal/sink"
	"vault-risk-backtest/internal/snapshot"
	"vault-risk-backtest/internal/storage"
	"vault-risk-backtest/internal/transition"
	"vault-risk-backtest/internal/vault"
)

// analysisPlan is the resolved configuration of one analyze run.
type analysisPlan struct {
	vaultSetDir      string
	historyPath      string
	collateralType   string
	window           uint64
	tag              string
	tieBreak         liquidation.TieBreak
	missingVault     transition.MissingVaultPolicy
	abortOnLoadError bool
	loadConcurrency  int
	workers          int
	batchSize        int
	resultDir        string
	chunkSize        int
	persist          bool
}

func (a *App) plan(opts AnalyzeOptions) (analysisPlan, error) {
	cfg := a.Config
	p := analysisPlan{
		vaultSetDir:      cfg.Data.VaultSetDir,
		historyPath:      cfg.Data.VaultHistoryPath,
		collateralType:   cfg.Analysis.CollateralType,
		window:           cfg.Analysis.Window,
		tag:              cfg.Analysis.LiquidationTag,
		abortOnLoadError: cfg.Analysis.AbortOnLoadError,
		loadConcurrency:  cfg.Analysis.LoadConcurrency,
		workers:          cfg.Analysis.Workers,
		batchSize:        cfg.Analysis.BatchSize,
		resultDir:        cfg.Output.ResultDir,
		chunkSize:        cfg.Output.ChunkSize,
		persist:          !opts.NoStore,
	}

	if opts.VaultSetDir != "" {
		p.vaultSetDir = opts.VaultSetDir
	}
	if opts.VaultHistoryPath != "" {
		p.historyPath = opts.VaultHistoryPath
	}
	if opts.CollateralType != "" {
		p.collateralType = opts.CollateralType
	}
	if opts.Window > 0 {
		p.window = opts.Window
	}
	if opts.ResultDir != "" {
		p.resultDir = opts.ResultDir
	}
	if opts.Workers > 0 {
		p.workers = opts.Workers
	}
	if p.tag == "" {
		p.tag = liquidation.DefaultStartTag
	}

	var err error
	if p.tieBreak, err = liquidation.ParseTieBreak(cfg.Analysis.TieBreak); err != nil {
		return analysisPlan{}, err
	}
	if p.missingVault, err = transition.ParseMissingVaultPolicy(cfg.Analysis.MissingVault); err != nil {
		return analysisPlan{}, err
	}
	return p, nil
}

// Analyze runs the capital-at-risk backtest over the configured data set
// and prints the summary to stdout.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) (risk.Summary, error) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	plan, err := a.plan(opts)
	if err != nil {
		return risk.Summary{}, err
	}
	started := time.Now().UTC()

	history, err := snapshot.LoadHistory(plan.historyPath, a.Logger)
	if err != nil {
		return risk.Summary{}, fmt.Errorf("load vault history: %w", err)
	}
	index := liquidation.Build(history, plan.tag)
	a.Logger.Info().
		Int("vaults", index.Len()).
		Int("unparseable_timestamps", index.Unparseable).
		Interface("collateral_types", index.CollateralTypes()).
		Msg("liquidation index built")

	snaps, err := snapshot.Load(ctx, plan.vaultSetDir, snapshot.Options{Concurrency: plan.loadConcurrency}, a.Logger)
	if err != nil {
		return risk.Summary{}, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps.Failures) > 0 && plan.abortOnLoadError {
		errs := make([]error, 0, len(snaps.Failures))
		for _, failure := range snaps.Failures {
			errs = append(errs, failure)
		}
		return risk.Summary{}, fmt.Errorf("load snapshots: %w", errors.Join(errs...))
	}

	gen := pairs.New(snaps.Snapshots, plan.window)
	if skipped := gen.Skipped(); len(skipped) > 0 {
		a.Logger.Warn().Strs("keys", skipped).Msg("snapshot keys are not block heights; skipped")
	}
	a.Logger.Info().
		Int("blocks", gen.Blocks()).
		Uint64("window", gen.Window()).
		Str("collateral_type", plan.collateralType).
		Msg("enumerating block pairs")

	matcher := transition.NewMatcher(index, transition.Options{
		CollateralType: plan.collateralType,
		TieBreak:       plan.tieBreak,
		MissingVault:   plan.missingVault,
	})

	var sinks []pipeline.Sink
	var chunks *sink.ChunkWriter
	if plan.resultDir != "" {
		chunks, err = sink.NewChunkWriter(plan.resultDir, plan.chunkSize, a.Logger)
		if err != nil {
			return risk.Summary{}, err
		}
		sinks = append(sinks, chunks)
	}

	var (
		store    *storage.Store
		run      storage.RunRecord
		recorder pipeline.Recorder
	)
	if plan.persist {
		var closeStore func()
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return risk.Summary{}, err
		}
		if closeStore != nil {
			defer closeStore()
		}
	}
	if store != nil {
		run, err = store.CreateRun(ctx, storage.RunRecord{
			StartedAt:      started,
			CollateralType: plan.collateralType,
			WindowBlocks:   int64(plan.window),
			Blocks:         gen.Blocks(),
			FailedBlocks:   len(snaps.Failures),
		})
		if err != nil {
			return risk.Summary{}, err
		}
		recorder = storage.NewRecorder(store, run.ID)
		a.Logger.Info().Int64("run_id", run.ID).Msg("analysis run registered")
	} else if plan.persist {
		a.Logger.Debug().Msg("database.dsn not configured; persistence disabled")
	}

	p := pipeline.New(matcher, pipeline.Options{Workers: plan.workers, BatchSize: plan.batchSize}, a.Logger, recorder, sinks...)
	summary, runErr := runPipeline(ctx, p, gen.All(), chunks)

	if store != nil {
		a.finishRun(context.WithoutCancel(ctx), store, run, summary, runErr)
	}
	if runErr != nil {
		return summary, runErr
	}

	a.alert(ctx, run.ID, plan, summary)
	printSummary(a.out(), summary)
	return summary, nil
}

// runPipeline runs p over seq and closes chunks on every path; results folded
// before a failure still reach disk.
func runPipeline(ctx context.Context, p *pipeline.Pipeline, seq iter.Seq[vault.BlockPair], chunks *sink.ChunkWriter) (risk.Summary, error) {
	summary, err := p.Run(ctx, seq)
	if chunks != nil {
		if closeErr := chunks.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close result chunks: %w", closeErr))
		}
	}
	return summary, err
}

func (a *App) finishRun(ctx context.Context, store storage.RunStore, run storage.RunRecord, summary risk.Summary, runErr error) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.ApplySummary(summary)
	run.Status = storage.RunStatusComplete
	if runErr != nil {
		msg := runErr.Error()
		run.Status = storage.RunStatusErrored
		run.Error = &msg
	}
	if err := store.FinishRun(ctx, run); err != nil {
		a.Logger.Error().Err(err).Int64("run_id", run.ID).Msg("failed to finish run record")
	}
}

func (a *App) alert(ctx context.Context, runID int64, plan analysisPlan, summary risk.Summary) {
	if !a.Config.Alerting.Enabled || !summary.Valid {
		return
	}
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
		return
	}

	note := alerting.Notification{
		RunID:            runID,
		FinishedAt:       time.Now().UTC(),
		CollateralType:   plan.collateralType,
		WindowBlocks:     plan.window,
		Pairs:            summary.Pairs,
		ValidPoints:      summary.ValidPoints,
		LiquidatedPairs:  summary.PairsWithLiquidations,
		MeanDeviationPct: decimal.NewFromFloat(summary.MeanDeviationPct),
		ThresholdPct:     decimal.NewFromFloat(a.Config.Alerting.ThresholdPct),
		Channels:         a.Config.Alerting.Channels,
	}
	if !note.Exceeds() {
		return
	}
	if err := notifier.Notify(ctx, note); err != nil {
		a.Logger.Error().Err(err).Msg("failed to send alert")
	}
}

func (a *App) out() io.Writer {
	if a.Out != nil {
		return a.Out
	}
	return os.Stdout
}

func printSummary(w io.Writer, s risk.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Pairs\t%d\n", s.Pairs)
	fmt.Fprintf(tw, "Failed pairs\t%d\n", s.FailedPairs)
	fmt.Fprintf(tw, "Pairs with liquidations\t%d\n", s.PairsWithLiquidations)
	fmt.Fprintf(tw, "No price drop\t%d\n", s.NoPriceDrop)
	fmt.Fprintf(tw, "No estimated risk\t%d\n", s.NoEstimatedRisk)
	fmt.Fprintf(tw, "Unparseable price\t%d\n", s.PriceUnparseable)
	fmt.Fprintf(tw, "NaN deviations\t%d\n", s.NaNDeviations)
	fmt.Fprintf(tw, "Vaults missing in second snapshot\t%d\n", s.MissingSecond)
	fmt.Fprintf(tw, "Deviation sum\t%g\n", s.DeviationSum)
	fmt.Fprintf(tw, "Valid points\t%d\n", s.ValidPoints)
	if s.Valid {
		fmt.Fprintf(tw, "Mean deviation\t%.4f%%\n", s.MeanDeviationPct)
	} else {
		fmt.Fprintf(tw, "Mean deviation\tn/a\n")
	}
	tw.Flush()
}
