package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"vault-risk-backtest/internal/risk"
	"vault-risk-backtest/internal/transition"
	"vault-risk-backtest/internal/vault"
)

// DefaultBatchSize bounds the number of pairs held in memory at once.
const DefaultBatchSize = 256

// Matcher builds the transitions of a block pair.
type Matcher interface {
	Match(pair vault.BlockPair) (*transition.Result, error)
}

// Sink receives every matched pair result in enumeration order.
type Sink interface {
	Push(res *transition.Result) error
}

// Recorder persists per-pair metrics, one batch at a time.
type Recorder interface {
	RecordPairs(ctx context.Context, metrics []risk.PairMetrics) error
}

// Options tune the pipeline.
type Options struct {
	Workers   int
	BatchSize int
}

// Pipeline evaluates block pairs in parallel batches and folds their
// metrics in enumeration order.
type Pipeline struct {
	matcher  Matcher
	sinks    []Sink
	recorder Recorder
	opts     Options
	logger   zerolog.Logger
}

// New constructs a pipeline. sinks and recorder are optional.
func New(matcher Matcher, opts Options, logger zerolog.Logger, recorder Recorder, sinks ...Sink) *Pipeline {
	opts.Workers = Parallelism(opts.Workers)
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Pipeline{
		matcher:  matcher,
		sinks:    sinks,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Parallelism resolves the worker count: an override wins, otherwise four
// workers per CPU capped at 512.
func Parallelism(override int) int {
	if override > 0 {
		if override > 512 {
			return 512
		}
		return override
	}

	n := runtime.NumCPU() * 4
	if n < 2 {
		n = 2
	}
	if n > 512 {
		n = 512
	}
	return n
}

type outcome struct {
	pair    vault.BlockPair
	result  *transition.Result
	metrics risk.PairMetrics
	err     error
}

// Run consumes pairs until the sequence ends or ctx is cancelled. On
// cancellation it returns the summary of the pairs folded so far together
// with the context error.
func (p *Pipeline) Run(ctx context.Context, pairs iter.Seq[vault.BlockPair]) (risk.Summary, error) {
	start := time.Now()
	agg := risk.NewAggregator(p.logger)

	pool := pond.NewPool(p.opts.Workers, pond.WithQueueSize(p.opts.BatchSize))
	defer pool.StopAndWait()

	batch := make([]vault.BlockPair, 0, p.opts.BatchSize)
	index := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		outcomes, err := p.evaluate(ctx, pool, batch)
		if err != nil {
			return err
		}
		if err := p.fold(ctx, agg, index, outcomes); err != nil {
			return err
		}
		index += len(batch)
		clear(batch)
		batch = batch[:0]
		return nil
	}

	for pair := range pairs {
		batch = append(batch, pair)
		if len(batch) < p.opts.BatchSize {
			continue
		}
		if err := flush(); err != nil {
			return agg.Summary(), err
		}
		p.logger.Debug().Int("pairs", index).Dur("elapsed", time.Since(start)).Msg("batch folded")
	}
	if err := flush(); err != nil {
		return agg.Summary(), err
	}

	summary := agg.Summary()
	p.logger.Info().
		Int("pairs", summary.Pairs).
		Int("valid_points", summary.ValidPoints).
		Int("failed", summary.FailedPairs).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline finished")
	return summary, nil
}

// evaluate matches and scores a batch concurrently. Results are stored by
// position so the fold order does not depend on scheduling.
func (p *Pipeline) evaluate(ctx context.Context, pool pond.Pool, batch []vault.BlockPair) ([]outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcomes := make([]outcome, len(batch))
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i, pair := range batch {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			out := outcome{pair: pair}
			out.result, out.err = p.matcher.Match(pair)
			if out.err == nil {
				out.metrics = risk.Evaluate(out.result)
			}
			outcomes[i] = out
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *Pipeline) fold(ctx context.Context, agg *risk.Aggregator, offset int, outcomes []outcome) error {
	metrics := make([]risk.PairMetrics, 0, len(outcomes))
	for i, out := range outcomes {
		index := offset + i
		if out.err != nil {
			metrics = append(metrics, agg.AddFailure(index, out.pair.FirstBlock, out.pair.SecondBlock, out.err))
			continue
		}

		out.metrics.Index = index
		agg.Add(out.metrics)
		metrics = append(metrics, out.metrics)

		if out.result.MissingSecond > 0 {
			p.logger.Debug().Err(vault.ErrMissingVaultInSecondSnapshot).
				Int("index", index).
				Str("first_block", out.pair.FirstBlock).
				Str("second_block", out.pair.SecondBlock).
				Int("vaults", out.result.MissingSecond).
				Msg("vaults closed between snapshots")
		}

		for _, sink := range p.sinks {
			if err := sink.Push(out.result); err != nil {
				return fmt.Errorf("push pair %d: %w", index, err)
			}
		}
	}

	if p.recorder != nil {
		if err := p.recorder.RecordPairs(ctx, metrics); err != nil {
			return fmt.Errorf("record pair metrics: %w", err)
		}
	}
	return nil
}
