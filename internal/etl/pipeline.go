package etl

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/privacy"
)

// Pipeline loads regression datasets into privacy.RegressionCase tables
type Pipeline struct {
	config *Config
	logger *zap.Logger
	stats  *ProcessingStats
	mu     sync.RWMutex
}

// NewPipeline creates a new dataset pipeline
func NewPipeline(config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config: config,
		logger: logger,
		stats:  &ProcessingStats{StartTime: time.Now()},
	}
}

// LoadCases loads path with the default configuration
func LoadCases(ctx context.Context, path string) ([]privacy.RegressionCase, *LoadResult, error) {
	return NewPipeline(nil, nil).LoadCases(ctx, path)
}

// LoadCases reads a CSV, JSON lines or Parquet dataset. Rows with empty text,
// unknown categories or no expected category are skipped and counted.
func (p *Pipeline) LoadCases(ctx context.Context, path string) ([]privacy.RegressionCase, *LoadResult, error) {
	format := DetectFileFormat(path)
	p.logger.Info("Loading regression dataset",
		zap.String("file", path),
		zap.String("format", string(format)),
	)

	start := time.Now()
	result := &LoadResult{}
	p.resetStats()

	file, err := os.Open(path)
	if err != nil {
		return nil, result, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	var readBatch func() ([]*DataRecord, error)
	switch format {
	case FormatCSV:
		readBatch, err = p.csvReader(file)
	case FormatParquet:
		readBatch, err = p.parquetReader(file)
	case FormatJSON:
		readBatch, err = p.jsonReader(file)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, result, err
	}

	cases, err := p.processBatches(ctx, readBatch, result)
	result.Duration = time.Since(start)
	if err != nil {
		return nil, result, err
	}

	p.logger.Info("Regression dataset loaded",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("loaded", result.Loaded),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("duplicates", result.Duplicates),
		zap.Duration("duration", result.Duration),
	)
	return cases, result, nil
}

// csvReader expects a header row naming the text and expected columns
func (p *Pipeline) csvReader(file io.Reader) (func() ([]*DataRecord, error), error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	textCol, expectedCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "text":
			textCol = i
		case "expected":
			expectedCol = i
		}
	}
	if textCol < 0 || expectedCol < 0 {
		return nil, fmt.Errorf("CSV header must contain text and expected columns, got %v", header)
	}
	p.logger.Debug("CSV header detected", zap.Strings("columns", header))

	done := false
	return func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for !done && len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				var parseErr *csv.ParseError
				if errors.As(err, &parseErr) {
					p.logger.Warn("Failed to read CSV record", zap.Error(err))
					batch = append(batch, nil)
					continue
				}
				return nil, err
			}
			if len(record) <= textCol || len(record) <= expectedCol {
				batch = append(batch, nil)
				continue
			}
			batch = append(batch, &DataRecord{
				Text:     record[textCol],
				Expected: record[expectedCol],
			})
		}
		return batch, nil
	}, nil
}

func (p *Pipeline) parquetReader(file *os.File) (func() ([]*DataRecord, error), error) {
	reader := parquet.NewReader(file)
	done := false
	return func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for !done && len(batch) < p.config.BatchSize {
			var record DataRecord
			err := reader.Read(&record)
			if err == io.EOF {
				done = true
				reader.Close()
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			batch = append(batch, &record)
		}
		return batch, nil
	}, nil
}

// jsonReader reads one JSON object per line
func (p *Pipeline) jsonReader(file io.Reader) (func() ([]*DataRecord, error), error) {
	decoder := json.NewDecoder(file)
	done := false
	return func() ([]*DataRecord, error) {
		var batch []*DataRecord
		for !done && len(batch) < p.config.BatchSize {
			var record jsonRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				var typeErr *json.UnmarshalTypeError
				if errors.As(err, &typeErr) {
					batch = append(batch, nil)
					continue
				}
				// A syntax error leaves the decoder unusable.
				return nil, fmt.Errorf("failed to read JSON record: %w", err)
			}
			batch = append(batch, &DataRecord{Text: record.Text, Expected: string(record.Expected)})
		}
		return batch, nil
	}, nil
}

// processBatches drains readBatch. A nil record marks an unreadable row.
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DataRecord, error), result *LoadResult) ([]privacy.RegressionCase, error) {
	var cases []privacy.RegressionCase
	seen := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return nil, fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, record := range batch {
			result.TotalRecords++
			p.bumpStats(func(s *ProcessingStats) { s.RecordsRead++ })

			c, err := p.toCase(record)
			if err != nil {
				result.Skipped++
				p.bumpStats(func(s *ProcessingStats) { s.RecordsInvalid++ })
				if len(result.Errors) < p.config.MaxErrors {
					result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", result.TotalRecords, err))
				}
				continue
			}
			if p.config.SkipDuplicates {
				hash := computeTextHash(c.Text)
				if seen[hash] {
					result.Duplicates++
					continue
				}
				seen[hash] = true
			}
			cases = append(cases, c)
			result.Loaded++
			p.bumpStats(func(s *ProcessingStats) { s.RecordsValid++ })
		}

		if p.config.ProgressReport > 0 && result.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(result)
		}
	}
	return cases, nil
}

// toCase validates a record. Errors never quote the record's text.
func (p *Pipeline) toCase(record *DataRecord) (privacy.RegressionCase, error) {
	if record == nil {
		return privacy.RegressionCase{}, errors.New("malformed row")
	}
	text := strings.TrimSpace(record.Text)
	if text == "" {
		return privacy.RegressionCase{}, errors.New("empty text")
	}
	if n := utf8.RuneCountInString(text); p.config.MaxTextLength > 0 && n > p.config.MaxTextLength {
		return privacy.RegressionCase{}, fmt.Errorf("text too long: %d characters", n)
	}

	names := splitExpected(record.Expected)
	if len(names) == 0 {
		return privacy.RegressionCase{}, errors.New("no expected category")
	}
	expected := make([]privacy.Category, 0, len(names))
	for _, name := range names {
		cat, err := privacy.ParseCategory(name)
		if err != nil {
			return privacy.RegressionCase{}, err
		}
		expected = append(expected, cat)
	}
	return privacy.RegressionCase{Text: text, Expected: expected}, nil
}

// WriteFailuresParquet writes the failing checks of report to path
func WriteFailuresParquet(path string, report privacy.RegressionReport) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	runAt := time.Now().UnixMilli()
	rows := make([]FailureRecord, 0, len(report.Failures))
	for _, f := range report.Failures {
		detected := make([]string, 0, len(f.Detected))
		for _, c := range f.Detected {
			detected = append(detected, c.String())
		}
		rows = append(rows, FailureRecord{
			Text:     f.Text,
			Expected: f.Expected.String(),
			Detected: strings.Join(detected, "|"),
			RunAt:    runAt,
		})
	}

	writer := parquet.NewGenericWriter[FailureRecord](file)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write report rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish report: %w", err)
	}
	return file.Close()
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *LoadResult) {
	p.mu.RLock()
	elapsed := time.Since(p.stats.StartTime)
	p.mu.RUnlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_read", result.TotalRecords),
		zap.Int64("loaded", result.Loaded),
		zap.Int64("skipped", result.Skipped),
		zap.Float64("rate_per_sec", float64(result.TotalRecords)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed),
	)
}

func (p *Pipeline) bumpStats(fn func(*ProcessingStats)) {
	p.mu.Lock()
	fn(p.stats)
	p.mu.Unlock()
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}

// computeTextHash computes SHA-256 hash of the given text
func computeTextHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
