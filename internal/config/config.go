package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Dataset  DatasetConfig  `yaml:"dataset" mapstructure:"dataset"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// APIConfig points the client at the AllerScan backend.
type APIConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ExportTimeoutSecs int     `yaml:"export_timeout_secs" mapstructure:"export_timeout_secs"`
	RatePerSec        float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// DatasetConfig configures the dataset view defaults.
type DatasetConfig struct {
	PageSize        int `yaml:"page_size" mapstructure:"page_size"`
	BulkPageSize    int `yaml:"bulk_page_size" mapstructure:"bulk_page_size"`
	MaxStatsRecords int `yaml:"max_stats_records" mapstructure:"max_stats_records"`
}

// ExportConfig configures Excel export behavior.
type ExportConfig struct {
	Limit int    `yaml:"limit" mapstructure:"limit"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
}

// SnapshotConfig configures the local snapshot database.
type SnapshotConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the local dashboard API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ALLERSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8001")
	v.SetDefault("api.timeout_secs", 15)
	v.SetDefault("api.export_timeout_secs", 90)
	v.SetDefault("api.rate_per_sec", 10)
	v.SetDefault("api.concurrency", 4)
	v.SetDefault("dataset.page_size", 20)
	v.SetDefault("dataset.bulk_page_size", 100)
	v.SetDefault("dataset.max_stats_records", 1000)
	v.SetDefault("export.limit", 1000)
	v.SetDefault("export.dir", ".")
	v.SetDefault("snapshot.path", "allerscan.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Default returns the configuration with every default applied, used by
// "config init" to write a starter file.
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal defaults")
	}
	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
