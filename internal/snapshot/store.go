package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vault-risk-backtest/internal/vault"
)

var errTrailingData = errors.New("unexpected data after top-level value")

// Options tune snapshot loading.
type Options struct {
	// Concurrency bounds the number of block files decoded at once.
	Concurrency int
}

// Store is the fully loaded, read-only snapshot set of one analysis run.
type Store struct {
	Snapshots vault.Snapshots
	// Failures lists blocks that were excluded because they could not be loaded.
	Failures []*vault.LoadError
}

// Heights returns the loaded block keys in ascending lexical order.
func (s *Store) Heights() []string {
	keys := make([]string, 0, len(s.Snapshots))
	for k := range s.Snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load reads one snapshot file from every immediate subdirectory of dir.
// A block that fails to load is excluded as a whole and reported in
// Store.Failures; only an unreadable dir is returned as an error.
func Load(ctx context.Context, dir string, opts Options, logger zerolog.Logger) (*Store, error) {
	log := logger.With().Str("component", "snapshot_loader").Logger()
	start := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &vault.LoadError{Path: dir, Err: err}
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}

	var (
		mu    sync.Mutex
		store = &Store{Snapshots: make(vault.Snapshots, len(entries))}
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		block := entry.Name()
		blockDir := filepath.Join(dir, block)

		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			file, err := pickSnapshotFile(blockDir)
			if err != nil {
				mu.Lock()
				store.Failures = append(store.Failures, &vault.LoadError{Path: blockDir, Err: err})
				mu.Unlock()
				log.Error().Err(err).Str("block", block).Msg("failed to read block directory")
				return nil
			}
			if file == "" {
				log.Debug().Str("block", block).Msg("block directory holds no snapshot file")
				return nil
			}

			snap, err := readBlockSnapshot(file)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				store.Failures = append(store.Failures, &vault.LoadError{Path: file, Err: err})
				log.Error().Err(err).Str("block", block).Str("path", file).Msg("failed to decode snapshot")
				return nil
			}
			store.Snapshots[block] = snap
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(store.Failures, func(i, j int) bool {
		return store.Failures[i].Path < store.Failures[j].Path
	})

	log.Info().
		Int("blocks", len(store.Snapshots)).
		Int("failed", len(store.Failures)).
		Dur("elapsed", time.Since(start)).
		Msg("snapshots loaded")
	return store, nil
}

// pickSnapshotFile returns the lexically last regular file of a block
// directory, or "" if it has none.
func pickSnapshotFile(blockDir string) (string, error) {
	entries, err := os.ReadDir(blockDir)
	if err != nil {
		return "", err
	}

	var last string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.Name() > last {
			last = entry.Name()
		}
	}
	if last == "" {
		return "", nil
	}
	return filepath.Join(blockDir, last), nil
}

func readBlockSnapshot(path string) (vault.BlockSnapshot, error) {
	var snap vault.BlockSnapshot
	if err := decodeFile(path, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// LoadHistory reads the vault history file keyed by vault identifier.
func LoadHistory(path string, logger zerolog.Logger) (map[string]vault.History, error) {
	start := time.Now()

	var history map[string]vault.History
	if err := decodeFile(path, &history); err != nil {
		return nil, &vault.LoadError{Path: path, Err: err}
	}

	logger.Info().
		Str("component", "snapshot_loader").
		Int("vaults", len(history)).
		Dur("elapsed", time.Since(start)).
		Msg("vault history loaded")
	return history, nil
}

func decodeFile(path string, out any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	dec := json.NewDecoder(bufio.NewReader(file))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode json: %w", errTrailingData)
	}
	return nil
}
