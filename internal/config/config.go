package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-engine/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      store.Config     `yaml:"store" mapstructure:"store"`
	LeadsAPI   LeadsAPIConfig   `yaml:"leads_api" mapstructure:"leads_api"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Permission PermissionConfig `yaml:"permission" mapstructure:"permission"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy" mapstructure:"taxonomy"`
}

// LeadsAPIConfig holds the CRM data source settings.
type LeadsAPIConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Token     string  `yaml:"token" mapstructure:"token"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
	PageSize  int     `yaml:"page_size" mapstructure:"page_size"`
}

// CacheConfig configures segment snapshot freshness.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// SearchConfig configures the free-text search debounce.
type SearchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// FetchConfig configures retries and the circuit breaker around the data
// source.
type FetchConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	WarmConcurrency  int           `yaml:"warm_concurrency" mapstructure:"warm_concurrency"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PermissionConfig selects the permission oracle. Actions are granted on
// top of the role's.
type PermissionConfig struct {
	Role    string   `yaml:"role" mapstructure:"role"`
	Actions []string `yaml:"actions" mapstructure:"actions"`
}

// TaxonomyConfig optionally replaces the embedded fallback taxonomy.
type TaxonomyConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadengine.db")
	v.SetDefault("leads_api.base_url", "http://localhost:8000/api")
	v.SetDefault("leads_api.token", "")
	v.SetDefault("leads_api.rate_limit", 5.0)
	v.SetDefault("leads_api.burst", 5)
	v.SetDefault("leads_api.page_size", 500)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("search.debounce", 250*time.Millisecond)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.initial_backoff", 300*time.Millisecond)
	v.SetDefault("fetch.max_backoff", 5*time.Second)
	v.SetDefault("fetch.failure_threshold", 5)
	v.SetDefault("fetch.reset_timeout", 30*time.Second)
	v.SetDefault("fetch.warm_concurrency", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("permission.role", "viewer")
	v.SetDefault("taxonomy.file", "")

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

// Validate checks the settings a command needs. Modes: "serve" needs the
// data source and a port, "fetch" only the data source, "store" nothing
// beyond the store.
func (c *Config) Validate(mode string) error {
	var missing []string
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required for postgres")
	}
	switch mode {
	case "serve", "fetch":
		if c.LeadsAPI.BaseURL == "" {
			missing = append(missing, "leads_api.base_url is required")
		}
		if c.LeadsAPI.RateLimit <= 0 {
			missing = append(missing, "leads_api.rate_limit must be positive")
		}
	}
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		missing = append(missing, "server.port must be between 1 and 65535")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
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
