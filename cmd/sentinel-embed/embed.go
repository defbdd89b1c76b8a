package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raaihank/sentinel-embed/internal/output"
)

var embedCmd = &cobra.Command{
	Use:   "embed [text...]",
	Short: "Embed text and write the vector to a JSON file",
	Long: `Embed one or more texts. The first embedding is written to the output file
as a JSON array of numbers; with --all every embedding is written as an
array of arrays in input order.`,
	RunE: runEmbed,
}

var (
	embedTexts []string
	embedOut   string
	embedAll   bool
)

func init() {
	rootCmd.AddCommand(embedCmd)
	embedCmd.Flags().StringArrayVarP(&embedTexts, "text", "t", nil, "Text to embed (repeatable)")
	embedCmd.Flags().StringVarP(&embedOut, "out", "o", "", "Output file (default from config, embedding.json)")
	embedCmd.Flags().BoolVar(&embedAll, "all", false, "Write all embeddings instead of only the first")
}

func runEmbed(cmd *cobra.Command, args []string) error {
	texts := append(append([]string(nil), embedTexts...), args...)
	if len(texts) == 0 {
		return fmt.Errorf("nothing to embed: pass --text or positional arguments")
	}
	outPath := embedOut
	if outPath == "" {
		outPath = globalConfig.Output.Path
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := initializeServices(globalConfig, globalLogger, false)
	if err != nil {
		return err
	}
	defer svc.cleanup()

	res, err := svc.embeddingService.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return err
	}

	if embedAll {
		err = output.WriteEmbeddings(outPath, res.Embeddings)
	} else {
		err = output.WriteEmbedding(outPath, res.Embeddings[0])
	}
	if err != nil {
		return err
	}

	written := 1
	if embedAll {
		written = len(res.Embeddings)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d text(s) into %d-dim vectors (%d tokens, %v)\n",
		len(texts), len(res.Embeddings[0]), res.TotalTokens, res.Duration.Round(time.Microsecond))
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d embedding(s) to %s\n", written, outPath)
	return nil
}
