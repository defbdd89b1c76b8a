package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raaihank/sentinel-embed/internal/config"
	"github.com/raaihank/sentinel-embed/internal/logger"
)

var (
	globalConfig *config.Config
	globalLoader *config.Loader
	globalLogger *logger.Logger
)

// Flags
var (
	configPath    string
	tokenizerPath string
	modelPath     string
	logLevel      string
)

var rootCmd = &cobra.Command{
	Use:   "sentinel-embed",
	Short: "Sentence embeddings from an ONNX transformer and a HuggingFace tokenizer",
	Long: `sentinel-embed turns text into dense vectors with an ONNX sentence-embedding
model (all-MiniLM-L6-v2 by default), compares texts by cosine similarity,
serves both over HTTP and bulk-loads datasets into pgvector.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		globalLoader = config.NewLoader()
		cfg, err := globalLoader.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		applyFlagOverrides(cmd, cfg)
		globalConfig = cfg

		loggerConfig := logger.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		}
		if cfg.Logging.File.Enabled {
			loggerConfig.File = &logger.FileConfig{
				Enabled: true,
				Path:    cfg.Logging.File.Path,
			}
		}
		log, err := logger.New(loggerConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		globalLogger = log
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if globalLogger != nil {
			_ = globalLogger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&tokenizerPath, "tokenizer", "k", "./tokenizer.json", "Path to tokenizer.json")
	rootCmd.PersistentFlags().StringVarP(&modelPath, "model", "m", "./model.onnx", "Path to the ONNX model")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
}

// applyFlagOverrides lets explicitly set flags win over file and env values
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("tokenizer") {
		cfg.Model.TokenizerPath = tokenizerPath
	}
	if flags.Changed("model") {
		cfg.Model.ModelPath = modelPath
		cfg.Engine.ModelPath = modelPath
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
}
