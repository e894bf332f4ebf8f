package etl

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

var (
	// ErrUnsupportedFormat is returned for file extensions the pipeline cannot read
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrMalformedRecord marks a single unreadable record; the pipeline skips it and continues
	ErrMalformedRecord = errors.New("malformed record")
	// ErrDuplicateID is returned when two records share an id, which would make the mapping file ambiguous
	ErrDuplicateID = errors.New("duplicate record id")
)

// Record is one text row of a dataset. Columns or fields other than id and text
// are carried through unchanged.
type Record struct {
	ID   string
	Text string

	row   []string                   // csv
	extra map[string]json.RawMessage // json lines
}

// MappingRecord is one line of the mapping file written next to a masked dataset
type MappingRecord struct {
	ID       string                     `json:"id"`
	Mappings []obfuscation.MappingEntry `json:"mappings"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64                          `json:"total_records"`
	ProcessedOK     int64                          `json:"processed_ok"`
	ProcessedFailed int64                          `json:"processed_failed"`
	Unmatched       int64                          `json:"unmatched,omitempty"`
	MaskedValues    int64                          `json:"masked_values"`
	Findings        map[obfuscation.Category]int64 `json:"findings"`
	Duration        time.Duration                  `json:"duration"`
	Errors          []string                       `json:"errors,omitempty"`
}

// Config contains batch pipeline configuration
type Config struct {
	BatchSize      int      `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	WorkerCount    int      `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	ProgressReport int      `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	CustomWords    []string `yaml:"custom_words" mapstructure:"custom_words"`
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsWritten int64     `json:"records_written"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// DefaultMappingPath derives the mapping file name from the masked output path
func DefaultMappingPath(outputPath string) string {
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".mappings.jsonl"
}
