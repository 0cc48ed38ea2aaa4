// Package sink durably appends detection records as they complete.
//
// Every record lands in two files that never diverge: a JSON Lines stream
// carrying the full record and a CSV table with the flattened projection.
// Writes are serialized under one lock and fsynced before Write returns, so
// an interrupted run leaves both files consistent up to the last record.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/metrics"
	"github.com/JakeFAU/practice-vendor-crawler/internal/record"
)

// Options configures a FileSink.
type Options struct {
	JSONLPath string
	CSVPath   string
	// Append keeps existing content, cut back to the last complete line;
	// otherwise both files are truncated.
	Append bool
}

// FileSink writes JSONL and CSV side by side.
type FileSink struct {
	mu     sync.Mutex
	jsonl  *os.File
	csv    *os.File
	logger *zap.Logger
	count  int
	closed bool
}

var _ crawler.Sink = (*FileSink)(nil)

// NewFileSink opens both outputs. The CSV header is written only when the
// CSV file is empty.
func NewFileSink(opts Options, logger *zap.Logger) (*FileSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.JSONLPath == "" || opts.CSVPath == "" {
		return nil, fmt.Errorf("%w: jsonl and csv paths are required", crawler.ErrSinkWrite)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if opts.Append {
		flags = os.O_CREATE | os.O_RDWR | os.O_APPEND
	}

	jsonl, err := openFile(opts.JSONLPath, flags)
	if err != nil {
		return nil, err
	}
	csvFile, err := openFile(opts.CSVPath, flags)
	if err != nil {
		_ = jsonl.Close()
		return nil, err
	}

	s := &FileSink{jsonl: jsonl, csv: csvFile, logger: logger}
	if opts.Append {
		for _, f := range []*os.File{jsonl, csvFile} {
			cut, err := trimTornTail(f)
			if err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("%w: repair %s: %w", crawler.ErrSinkWrite, f.Name(), err)
			}
			if cut > 0 {
				logger.Warn("dropped torn trailing record", zap.String("file", f.Name()), zap.Int64("bytes", cut))
			}
		}
	}
	info, err := csvFile.Stat()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", crawler.ErrSinkWrite, opts.CSVPath, err)
	}
	if info.Size() == 0 {
		header, err := encodeRow(record.Columns())
		if err == nil {
			err = writeSynced(csvFile, header)
		}
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: write csv header: %w", crawler.ErrSinkWrite, err)
		}
	}
	logger.Info("sink opened",
		zap.String("jsonl", opts.JSONLPath),
		zap.String("csv", opts.CSVPath),
		zap.Bool("append", opts.Append),
	)
	return s, nil
}

func openFile(path string, flags int) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: create dir %s: %w", crawler.ErrSinkWrite, dir, err)
		}
	}
	f, err := os.OpenFile(path, flags, 0o644) //nolint:gosec // outputs are meant to be shared
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", crawler.ErrSinkWrite, path, err)
	}
	return f, nil
}

// Write appends rec to both outputs and syncs them to disk.
func (s *FileSink) Write(ctx context.Context, rec crawler.DetectionRecord) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveSinkWrite(err, time.Since(start)) }()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal record %s: %w", crawler.ErrSinkWrite, rec.ID, err)
	}
	line = append(line, '\n')
	row, err := encodeRow(record.Row(rec))
	if err != nil {
		return fmt.Errorf("%w: encode row %s: %w", crawler.ErrSinkWrite, rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: sink closed", crawler.ErrSinkWrite)
	}
	if err := writeSynced(s.jsonl, line); err != nil {
		s.logger.Error("jsonl write failed", zap.String("id", rec.ID), zap.Error(err))
		return fmt.Errorf("%w: jsonl: %w", crawler.ErrSinkWrite, err)
	}
	if err := writeSynced(s.csv, row); err != nil {
		s.logger.Error("csv write failed", zap.String("id", rec.ID), zap.Error(err))
		return fmt.Errorf("%w: csv: %w", crawler.ErrSinkWrite, err)
	}
	s.count++
	metrics.ObserveRecord(string(rec.Status))
	return nil
}

// Count is the number of records written by this sink.
func (s *FileSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close syncs and closes both files.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, f := range []*os.File{s.jsonl, s.csv} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: close %s: %w", crawler.ErrSinkWrite, f.Name(), err)
		}
	}
	return firstErr
}

func encodeRow(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// trimTornTail truncates f after its last newline and returns the number of
// bytes removed.
func trimTornTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	end := size
	buf := make([]byte, 4096)
	for end > 0 {
		n := min(int64(len(buf)), end)
		chunk := buf[:n]
		if _, err := f.ReadAt(chunk, end-n); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			end = end - n + int64(i) + 1
			break
		}
		end -= n
	}
	if end == size {
		return 0, nil
	}
	if err := f.Truncate(end); err != nil {
		return 0, err
	}
	return size - end, f.Sync()
}

func writeSynced(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
