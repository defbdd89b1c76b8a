package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raaihank/sentinel-embed/internal/embeddings"
)

var similarityCmd = &cobra.Command{
	Use:   "similarity",
	Short: "Print the cosine similarity of two texts",
	RunE:  runSimilarity,
}

var simA, simB string

func init() {
	rootCmd.AddCommand(similarityCmd)
	similarityCmd.Flags().StringVarP(&simA, "a", "a", "", "First text")
	similarityCmd.Flags().StringVarP(&simB, "b", "b", "", "Second text")
	_ = similarityCmd.MarkFlagRequired("a")
	_ = similarityCmd.MarkFlagRequired("b")
}

func runSimilarity(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := initializeServices(globalConfig, globalLogger, false)
	if err != nil {
		return err
	}
	defer svc.cleanup()

	res, err := embeddings.CompareTexts(ctx, svc.embeddingService, simA, simB)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%.6f\n", res.Score)
	return nil
}
