package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/etl"
	"github.com/raaihank/sentinel-embed/internal/vector"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Embed a CSV, Parquet or JSONL dataset into pgvector or a file",
	Long: `Read text records from a dataset, embed them in batches and write the
results either to the pgvector document store (--output store) or to a
.parquet or .jsonl file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var (
	ingestOutput    string
	ingestBatchSize int
	ingestSkipIndex bool
	ingestSource    string
	ingestStats     bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestOutput, "output", "", "\"store\" or a .parquet/.jsonl path (default from config)")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "Records per embedding batch (overrides config)")
	ingestCmd.Flags().BoolVar(&ingestSkipIndex, "skip-index", false, "Skip vector index creation after loading")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "Source tag stored with each document (default: input file name)")
	ingestCmd.Flags().BoolVar(&ingestStats, "stats", false, "Show vector store statistics")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	log := globalLogger
	out := cmd.OutOrStdout()

	if len(args) == 0 && !ingestStats {
		return fmt.Errorf("input file is required")
	}

	etlConfig := cfg.ETL
	if ingestOutput != "" {
		etlConfig.Output = ingestOutput
	}
	if ingestBatchSize > 0 {
		etlConfig.BatchSize = ingestBatchSize
	}
	if ingestSkipIndex {
		etlConfig.CreateIndex = false
	}
	toStore := etlConfig.Output == "" || etlConfig.Output == "store"
	if (toStore || ingestStats) && !cfg.Store.Enabled {
		return fmt.Errorf("vector store is disabled: set store.enabled or pass --output <file>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) == 0 {
		store, err := vector.NewStore(&cfg.Store, log.WithComponent("vector").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
		defer store.Close()
		return showStoreStats(ctx, out, store)
	}

	inputFile := args[0]
	if _, err := os.Stat(inputFile); err != nil {
		return fmt.Errorf("input file not found: %w", err)
	}

	svc, err := initializeServices(cfg, log, toStore || ingestStats)
	if err != nil {
		return err
	}
	defer svc.cleanup()

	var sink etl.Sink
	if toStore {
		source := ingestSource
		if source == "" {
			source = filepath.Base(inputFile)
		}
		sink = etl.NewVectorSink(svc.vectorStore, source)
	} else {
		sink, err = etl.OpenFileSink(etlConfig.Output)
		if err != nil {
			return err
		}
	}

	pipeline := etl.NewPipeline(svc.embeddingService, sink, cfg.Model.ModelName, &etlConfig, log.WithComponent("etl").Logger)

	log.Info("Starting dataset ingestion",
		zap.String("input", inputFile),
		zap.String("format", string(etl.DetectFileFormat(inputFile))),
		zap.String("output", etlConfig.Output),
		zap.Int("batch_size", etlConfig.BatchSize))

	result, err := pipeline.ProcessFile(ctx, inputFile)
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	printResult(out, result)

	if ingestStats && svc.vectorStore != nil {
		return showStoreStats(ctx, out, svc.vectorStore)
	}
	return nil
}

func printResult(w io.Writer, r *etl.ProcessingResult) {
	fmt.Fprintln(w, "Ingestion Results")
	fmt.Fprintln(w, "=================")
	fmt.Fprintf(w, "Total records:     %d\n", r.TotalRecords)
	fmt.Fprintf(w, "Invalid records:   %d\n", r.InvalidRecords)
	fmt.Fprintf(w, "Embedded:          %d\n", r.ProcessedOK)
	fmt.Fprintf(w, "Failed:            %d\n", r.ProcessedFailed)
	fmt.Fprintf(w, "Written:           %d\n", r.Written)
	fmt.Fprintf(w, "Duplicates:        %d\n", r.Duplicates)
	fmt.Fprintf(w, "Batches:           %d\n", r.Batches)
	fmt.Fprintf(w, "Duration:          %v\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  embedding:       %v\n", r.EmbeddingTime.Round(time.Millisecond))
	fmt.Fprintf(w, "  sink:            %v\n", r.SinkTime.Round(time.Millisecond))
	if r.Duration > 0 {
		fmt.Fprintf(w, "Rate:              %.1f records/sec\n", float64(r.ProcessedOK)/r.Duration.Seconds())
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors (%d):\n", len(r.Errors))
		for i, e := range r.Errors {
			if i == 10 {
				fmt.Fprintf(w, "  ... and %d more\n", len(r.Errors)-10)
				break
			}
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func showStoreStats(ctx context.Context, w io.Writer, store *vector.Store) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get store stats: %w", err)
	}

	fmt.Fprintln(w, "\nVector Store Statistics")
	fmt.Fprintln(w, "=======================")
	fmt.Fprintf(w, "Total documents:   %d\n", stats.TotalDocuments)
	fmt.Fprintf(w, "Dimensions:        %d\n", stats.Dimensions)
	for label, count := range stats.ByLabel {
		fmt.Fprintf(w, "  %-16s %d\n", label+":", count)
	}
	return nil
}
