package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/embeddings"
)

// EnvPrefix is prepended to every environment override, e.g. SENTEMBED_SERVER_PORT
const EnvPrefix = "SENTEMBED"

// Loader reads configuration through its own viper instance
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// NewLoader creates a loader with the standard search paths
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/sentinel-embed/")
	v.AddConfigPath("$HOME/.sentinel-embed/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(Config{}), "")

	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader().Load(configPath)
}

// Load reads configPath, or searches the default paths when it is empty
func (l *Loader) Load(configPath string) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if configPath != "" {
		l.v.SetConfigFile(configPath)
	}

	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.decode()
}

// ConfigFile returns the file in use, or "" when running on defaults
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	config := GetDefaults()
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// bindEnvs registers every mapstructure key so env overrides apply even
// when the key is absent from the config file.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct && field.Type.String() != "time.Time" {
			bindEnvs(v, field.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validOptLevels  = map[string]bool{"": true, "disable": true, "none": true, "basic": true, "extended": true, "all": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.MaxBatch <= 0 {
		return fmt.Errorf("invalid server max_batch: %d", config.Server.MaxBatch)
	}
	if rl := config.Server.RateLimit; rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %v requests/s, burst %d", rl.RequestsPerSecond, rl.Burst)
	}

	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}
	if !validLogFormats[config.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if err := embeddings.ValidateModelConfig(config.Model); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if !validOptLevels[strings.ToLower(config.Engine.OptimizationLevel)] {
		return fmt.Errorf("invalid engine optimization level: %s", config.Engine.OptimizationLevel)
	}
	if config.Engine.IntraOpThreads < 0 || config.Engine.InterOpThreads < 0 {
		return fmt.Errorf("engine thread counts must not be negative")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache enabled but cache.redis_url is empty")
	}
	if config.Store.Enabled {
		if config.Store.DatabaseURL == "" {
			return fmt.Errorf("store enabled but store.database_url is empty")
		}
		if config.Store.Dimensions <= 0 {
			return fmt.Errorf("invalid store dimensions: %d", config.Store.Dimensions)
		}
	}
	if config.ETL.BatchSize <= 0 {
		return fmt.Errorf("invalid etl batch_size: %d", config.ETL.BatchSize)
	}

	return nil
}

// Watch starts watching the configuration file and calls callback with
// each valid new configuration. Invalid edits are logged and ignored.
func (l *Loader) Watch(logger *zap.Logger, callback func(*Config)) error {
	if l.v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file loaded to watch")
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.mu.Lock()
		newConfig, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			logger.Warn("Ignoring config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("Configuration reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		callback(newConfig)
	})
	l.v.WatchConfig()

	return nil
}
