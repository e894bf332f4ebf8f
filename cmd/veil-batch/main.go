package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/config"
	"github.com/raaihank/pii-veil/internal/etl"
	"github.com/raaihank/pii-veil/internal/logger"
	"github.com/raaihank/pii-veil/internal/obfuscation"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path")
		inputFile   = flag.String("input", "", "Input dataset file (CSV, JSON lines, or Parquet)")
		outputFile  = flag.String("output", "", "Output file, same format as the input")
		mappingFile = flag.String("mappings", "", "Mapping file (default: <output>.mappings.jsonl when masking)")
		customWords = flag.String("custom-words", "", "Comma-separated custom words to mask in every record")
		batchSize   = flag.Int("batch-size", 0, "Batch size for processing (default from config)")
		workers     = flag.Int("workers", 0, "Number of worker goroutines (default from config)")
		restore     = flag.Bool("restore", false, "Restore a masked file using its mapping file")
	)
	flag.Parse()

	if *inputFile == "" || *outputFile == "" || (*restore && *mappingFile == "") {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input tickets.csv -output tickets.masked.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input chats.jsonl -output chats.masked.jsonl -custom-words \"Acme Corp,Falcon\" -workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -restore -input answers.masked.csv -mappings tickets.masked.mappings.jsonl -output answers.csv\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting pii-veil batch",
		zap.String("input", *inputFile),
		zap.String("output", *outputFile),
		zap.Bool("restore", *restore))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := obfuscation.NewEngine(obfuscation.Options{
		Categories: cfg.Engine.Categories,
		LeadWords:  cfg.Engine.LeadWords,
	}, log.WithComponent("obfuscation").Logger)
	if err != nil {
		log.Fatal("Failed to create obfuscation engine", zap.Error(err))
	}

	etlConfig := &etl.Config{
		BatchSize:      cfg.Batch.BatchSize,
		WorkerCount:    cfg.Batch.WorkerCount,
		ProgressReport: cfg.Batch.ProgressReport,
		CustomWords:    cfg.Engine.CustomWords,
	}
	if *batchSize > 0 {
		etlConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		etlConfig.WorkerCount = *workers
	}
	if words := splitWords(*customWords); len(words) > 0 {
		etlConfig.CustomWords = words
	}

	pipeline := etl.NewPipeline(engine, etlConfig, log.WithComponent("etl").Logger)

	var result *etl.ProcessingResult
	if *restore {
		result, err = pipeline.Restore(ctx, *inputFile, *mappingFile, *outputFile)
	} else {
		result, err = pipeline.ProcessFile(ctx, *inputFile, *outputFile, *mappingFile)
	}
	if err != nil {
		log.Fatal("Batch processing failed", zap.Error(err))
	}

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	log.Info("Batch completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("unmatched", result.Unmatched),
		zap.Int64("masked_values", result.MaskedValues),
		zap.Duration("duration", result.Duration))
}

// splitWords parses the comma-separated -custom-words flag
func splitWords(s string) []string {
	var words []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}
