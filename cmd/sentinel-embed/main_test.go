package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/raaihank/sentinel-embed/internal/cache"
	"github.com/raaihank/sentinel-embed/internal/config"
	"github.com/raaihank/sentinel-embed/internal/etl"
	"github.com/raaihank/sentinel-embed/internal/logger"
)

func TestApplyFlagOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&tokenizerPath, "tokenizer", "./tokenizer.json", "")
	cmd.Flags().StringVar(&modelPath, "model", "./model.onnx", "")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "")

	cfg := config.GetDefaults()
	origTokenizer := cfg.Model.TokenizerPath

	assert.NoError(t, cmd.Flags().Set("model", "/models/minilm.onnx"))
	assert.NoError(t, cmd.Flags().Set("log-level", "debug"))
	applyFlagOverrides(cmd, cfg)

	assert.Equal(t, "/models/minilm.onnx", cfg.Model.ModelPath)
	assert.Equal(t, "/models/minilm.onnx", cfg.Engine.ModelPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, origTokenizer, cfg.Model.TokenizerPath, "unset flags must not override config")
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	errs := make([]string, 12)
	for i := range errs {
		errs[i] = "batch failed"
	}
	printResult(&buf, &etl.ProcessingResult{
		TotalRecords: 100,
		ProcessedOK:  88,
		Written:      80,
		Duplicates:   8,
		Duration:     2 * time.Second,
		Errors:       errs,
	})

	out := buf.String()
	assert.Contains(t, out, "Total records:     100")
	assert.Contains(t, out, "Duplicates:        8")
	assert.Contains(t, out, "44.0 records/sec")
	assert.Contains(t, out, "Errors (12):")
	assert.Contains(t, out, "... and 2 more")
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"embed", "similarity", "serve", "ingest", "version", "cache"} {
		cmd, _, err := rootCmd.Find([]string{name})
		assert.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "sentinel-embed "+version)
}

func TestReloadLogLevel(t *testing.T) {
	newCfg := config.GetDefaults()
	newCfg.Logging.Level = "error"

	log, err := logger.New(logger.Config{Level: "debug"})
	assert.NoError(t, err)
	reloadLogLevel(log, newCfg, true)
	assert.Equal(t, "debug", log.Level(), "a level pinned by flag survives reloads")

	reloadLogLevel(log, newCfg, false)
	assert.Equal(t, "error", log.Level())

	newCfg.Logging.Level = "loud"
	reloadLogLevel(log, newCfg, false)
	assert.Equal(t, "error", log.Level(), "invalid levels are ignored")
}

func TestCacheCommands(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Cache.Enabled = false
	assert.Error(t, requireCache(cfg))
	cfg.Cache.Enabled = true
	assert.NoError(t, requireCache(cfg))

	for _, name := range []string{"stats", "clear"} {
		cmd, _, err := rootCmd.Find([]string{"cache", name})
		assert.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	var buf bytes.Buffer
	printCacheStats(&buf, &cache.CacheStats{Hits: 9, Misses: 3, HitRate: 75, TotalKeys: 12})
	assert.Contains(t, buf.String(), "Hit rate:          75.0%")
	assert.Contains(t, buf.String(), "Keys:              12")
}
