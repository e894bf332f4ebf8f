package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

const maxReportedErrors = 100

// Masker is the transform pair the pipeline applies to each record
type Masker interface {
	Obfuscate(text string, customWords []string) obfuscation.Result
	Deobfuscate(text string, mappings []obfuscation.MappingEntry) string
}

// Pipeline masks or restores datasets record by record
type Pipeline struct {
	masker Masker
	config *Config
	logger *zap.Logger
	stats  *ProcessingStats
	mu     sync.RWMutex
}

// outcome is a transformed record plus what the mapping file needs
type outcome struct {
	record    Record
	mappings  []obfuscation.MappingEntry
	unmatched bool
}

type transformFunc func(Record) outcome

// NewPipeline creates a new batch pipeline
func NewPipeline(masker Masker, config *Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}

	return &Pipeline{
		masker: masker,
		config: config,
		logger: logger,
		stats:  &ProcessingStats{StartTime: time.Now()},
	}
}

// ProcessFile masks every record of inputPath into outputPath (same format) and
// writes one mapping line per record to mappingPath.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath, mappingPath string) (*ProcessingResult, error) {
	format, err := p.checkFormats(inputPath, outputPath)
	if err != nil {
		return nil, err
	}
	if mappingPath == "" {
		mappingPath = DefaultMappingPath(outputPath)
	}

	p.logger.Info("Starting batch masking",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.String("mappings", mappingPath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount),
		zap.Int("custom_words", len(p.config.CustomWords)))

	mapFile, err := os.Create(mappingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create mapping file: %w", err)
	}
	defer mapFile.Close()

	mapWriter := bufio.NewWriter(mapFile)
	encoder := json.NewEncoder(mapWriter)

	words := append([]string(nil), p.config.CustomWords...)
	mask := func(rec Record) outcome {
		res := p.masker.Obfuscate(rec.Text, words)
		rec.Text = res.Obfuscated
		return outcome{record: rec, mappings: res.Mappings}
	}

	seen := make(map[string]struct{})
	emit := func(o outcome) error {
		if _, dup := seen[o.record.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, o.record.ID)
		}
		seen[o.record.ID] = struct{}{}

		mappings := o.mappings
		if mappings == nil {
			mappings = []obfuscation.MappingEntry{}
		}
		return encoder.Encode(MappingRecord{ID: o.record.ID, Mappings: mappings})
	}

	result, err := p.run(ctx, format, inputPath, outputPath, mask, emit)
	if err != nil {
		return result, fmt.Errorf("masking %s failed: %w", inputPath, err)
	}

	if err := mapWriter.Flush(); err != nil {
		return result, fmt.Errorf("failed to write mapping file: %w", err)
	}

	p.logger.Info("Batch masking completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("masked_values", result.MaskedValues),
		zap.Any("findings", result.Findings),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

// Restore reverses a masked file using the mapping file written by ProcessFile.
// Records whose id has no mapping line are written unchanged and counted as unmatched.
func (p *Pipeline) Restore(ctx context.Context, maskedPath, mappingPath, outputPath string) (*ProcessingResult, error) {
	format, err := p.checkFormats(maskedPath, outputPath)
	if err != nil {
		return nil, err
	}

	byID, err := LoadMappings(mappingPath)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Starting batch restore",
		zap.String("input", maskedPath),
		zap.String("output", outputPath),
		zap.Int("mapping_records", len(byID)))

	restore := func(rec Record) outcome {
		mappings, ok := byID[rec.ID]
		if !ok {
			return outcome{record: rec, unmatched: true}
		}
		rec.Text = p.masker.Deobfuscate(rec.Text, mappings)
		return outcome{record: rec}
	}

	result, err := p.run(ctx, format, maskedPath, outputPath, restore, nil)
	if err != nil {
		return result, fmt.Errorf("restoring %s failed: %w", maskedPath, err)
	}

	p.logger.Info("Batch restore completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("unmatched", result.Unmatched),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

// LoadMappings reads a mapping file into a map keyed by record id. A repeated id
// is an error.
func LoadMappings(path string) (map[string][]obfuscation.MappingEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer file.Close()

	byID := make(map[string][]obfuscation.MappingEntry)
	decoder := json.NewDecoder(file)
	for n := 1; ; n++ {
		var rec MappingRecord
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("invalid mapping record %d: %w", n, err)
		}
		if _, dup := byID[rec.ID]; dup {
			return nil, fmt.Errorf("mapping record %d: %w: %s", n, ErrDuplicateID, rec.ID)
		}
		byID[rec.ID] = rec.Mappings
	}
	return byID, nil
}

func (p *Pipeline) checkFormats(inputPath, outputPath string) (FileFormat, error) {
	format, err := DetectFileFormat(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, inputPath)
	}
	outFormat, err := DetectFileFormat(outputPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, outputPath)
	}
	if outFormat != format {
		return "", fmt.Errorf("output %s must use the input format %s", outputPath, format)
	}
	return format, nil
}

// run streams inputPath through transform into outputPath, calling emit for
// every written record in input order.
func (p *Pipeline) run(ctx context.Context, format FileFormat, inputPath, outputPath string, transform transformFunc, emit func(outcome) error) (*ProcessingResult, error) {
	start := time.Now()
	result := &ProcessingResult{Findings: make(map[obfuscation.Category]int64)}
	p.resetStats()

	in, err := os.Open(inputPath)
	if err != nil {
		return result, fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	src, err := openSource(format, in)
	if err != nil {
		return result, err
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return result, fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()

	sink, err := openSink(format, out, src)
	if err != nil {
		return result, err
	}

	nextReport := int64(p.config.ProgressReport)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := p.readBatch(src, result)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		outcomes, err := p.transformBatch(ctx, batch, transform)
		if err != nil {
			return result, err
		}

		for _, o := range outcomes {
			if err := sink.Write(o.record); err != nil {
				return result, fmt.Errorf("failed to write record %s: %w", o.record.ID, err)
			}
			if emit != nil {
				if err := emit(o); err != nil {
					return result, fmt.Errorf("failed to write mapping for %s: %w", o.record.ID, err)
				}
			}

			result.ProcessedOK++
			result.MaskedValues += int64(len(o.mappings))
			for _, f := range obfuscation.Summarize(o.mappings) {
				result.Findings[f.Category] += int64(f.Count)
			}
			if o.unmatched {
				result.Unmatched++
			}
		}

		p.mu.Lock()
		p.stats.RecordsWritten += int64(len(outcomes))
		p.stats.CurrentBatch++
		p.mu.Unlock()

		if result.TotalRecords >= nextReport {
			p.reportProgress(result)
			nextReport += int64(p.config.ProgressReport)
		}
	}

	if err := sink.Close(); err != nil {
		return result, fmt.Errorf("failed to finish output: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// readBatch reads up to BatchSize records, skipping malformed ones
func (p *Pipeline) readBatch(src recordSource, result *ProcessingResult) ([]Record, error) {
	batch := make([]Record, 0, p.config.BatchSize)

	for len(batch) < p.config.BatchSize {
		rec, err := src.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrMalformedRecord) {
			result.TotalRecords++
			result.ProcessedFailed++
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, err.Error())
			}
			p.logger.Warn("Skipping malformed record", zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}

		result.TotalRecords++
		batch = append(batch, rec)
	}

	p.mu.Lock()
	p.stats.RecordsRead = result.TotalRecords
	p.mu.Unlock()

	return batch, nil
}

// transformBatch applies transform with WorkerCount workers, keeping input order
func (p *Pipeline) transformBatch(ctx context.Context, batch []Record, transform transformFunc) ([]outcome, error) {
	outcomes := make([]outcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.WorkerCount)

	for i := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = transform(batch[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	if elapsed > 0 {
		p.stats.ProcessingRate = float64(result.ProcessedOK) / elapsed.Seconds()
	}
	rate := p.stats.ProcessingRate
	p.mu.Unlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("masked_values", result.MaskedValues),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
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
