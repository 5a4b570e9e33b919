package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"vault-risk-backtest/internal/transition"
)

// DefaultChunkSize is the number of pair results written per file.
const DefaultChunkSize = 100

// ChunkWriter buffers transition results and flushes them to numbered
// JSON files named result-<first>-<last>.json.
type ChunkWriter struct {
	dir    string
	size   int
	logger zerolog.Logger

	buf     []*transition.Result
	start   int
	written []string
}

// NewChunkWriter prepares dir and returns a writer flushing every size results.
func NewChunkWriter(dir string, size int, logger zerolog.Logger) (*ChunkWriter, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	return &ChunkWriter{
		dir:    dir,
		size:   size,
		logger: logger.With().Str("component", "chunk_writer").Logger(),
		buf:    make([]*transition.Result, 0, size),
	}, nil
}

// Push appends one result, flushing when the chunk is full.
func (w *ChunkWriter) Push(res *transition.Result) error {
	w.buf = append(w.buf, res)
	if len(w.buf) < w.size {
		return nil
	}
	return w.flush()
}

// Close flushes the remaining partial chunk.
func (w *ChunkWriter) Close() error {
	if len(w.buf) == 0 {
		return nil
	}
	return w.flush()
}

// Files returns the paths written so far.
func (w *ChunkWriter) Files() []string {
	return w.written
}

func (w *ChunkWriter) flush() error {
	end := w.start + len(w.buf) - 1
	path := filepath.Join(w.dir, fmt.Sprintf("result-%d-%d.json", w.start, end))

	if err := writeJSON(path, w.buf); err != nil {
		return fmt.Errorf("write chunk %s: %w", path, err)
	}

	w.logger.Info().Int("from", w.start).Int("to", end).Str("path", path).Msg("chunk written")
	w.written = append(w.written, path)
	w.start = end + 1
	clear(w.buf)
	w.buf = w.buf[:0]
	return nil
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(file)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		file.Close()
		return err
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
