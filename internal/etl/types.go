package etl

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// DataRecord is one row of a regression dataset. Expected holds category
// keys or labels separated by "|".
type DataRecord struct {
	Text     string `parquet:"text" json:"text"`
	Expected string `parquet:"expected" json:"expected"`
}

// jsonRecord is a JSON lines row, where expected may also be an array
type jsonRecord struct {
	Text     string       `json:"text"`
	Expected expectedList `json:"expected"`
}

type expectedList string

func (e *expectedList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*e = expectedList(strings.Join(list, "|"))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*e = expectedList(s)
	return nil
}

func splitExpected(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FailureRecord is one row of a regression failure report
type FailureRecord struct {
	Text     string `parquet:"text"`
	Expected string `parquet:"expected"`
	Detected string `parquet:"detected"`
	RunAt    int64  `parquet:"run_at"` // unix milliseconds
}

// LoadResult represents the result of loading a dataset
type LoadResult struct {
	TotalRecords int64         `json:"total_records"`
	Loaded       int64         `json:"loaded"`
	Skipped      int64         `json:"skipped"`
	Duplicates   int64         `json:"duplicates"`
	Duration     time.Duration `json:"duration"`
	Errors       []string      `json:"errors,omitempty"`
}

// Config contains dataset loading configuration
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`
	SkipDuplicates bool `yaml:"skip_duplicates" mapstructure:"skip_duplicates"`
	MaxTextLength  int  `yaml:"max_text_length" mapstructure:"max_text_length"` // runes
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"`
	MaxErrors      int  `yaml:"max_errors" mapstructure:"max_errors"` // kept in LoadResult.Errors
}

// DefaultConfig returns the loader defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      500,
		SkipDuplicates: true,
		MaxTextLength:  50000,
		ProgressReport: 10000,
		MaxErrors:      20,
	}
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
