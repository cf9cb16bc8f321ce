// Package config loads service settings from defaults, an optional config
// file and JURISFLOW_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. JURISFLOW_HTTP_ADDR.
const EnvPrefix = "JURISFLOW"

// Config represents the complete service configuration.
type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Store       StoreConfig       `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Adjudicator AdjudicatorConfig `mapstructure:"adjudicator"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Closure     ClosureConfig     `mapstructure:"closure"`
	Broadcast   BroadcastConfig   `mapstructure:"broadcast"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Log         LogConfig         `mapstructure:"log"`
}

// HTTPConfig controls the API listener.
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxUploadMB    int      `mapstructure:"max_upload_mb"`
	// MaxTextBytes caps text extracted from one upload; 0 means four times the upload cap.
	MaxTextBytes    int64         `mapstructure:"max_text_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// VerdictRate is the sustained verdict requests per second allowed per case.
	VerdictRate  float64 `mapstructure:"verdict_rate"`
	VerdictBurst int     `mapstructure:"verdict_burst"`
}

// StoreConfig selects the case store.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// AdjudicatorConfig selects the upstream text-generation service.
type AdjudicatorConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	TopP        float64       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Jurisdiction frames judgments; "none" drops the framing.
	Jurisdiction string `mapstructure:"jurisdiction"`
}

// PolicyConfig holds the progression thresholds.
type PolicyConfig struct {
	CounterQuota          int `mapstructure:"counter_quota"`
	FinalCounterThreshold int `mapstructure:"final_counter_threshold"`
}

// ClosureConfig tunes how readers decide a case is closed.
type ClosureConfig struct {
	// ArgumentCeiling of 0 disables the volume rule.
	ArgumentCeiling int      `mapstructure:"argument_ceiling"`
	Markers         []string `mapstructure:"markers"`
}

// BroadcastConfig controls live event fan-out.
type BroadcastConfig struct {
	Buffer int `mapstructure:"buffer"`
	// RedisAddr enables the cross-process relay when set.
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Channel       string        `mapstructure:"channel"`
	KeepAlive     time.Duration `mapstructure:"keep_alive"`
}

// AuthConfig enables party tokens when Secret is set.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":5000",
			AllowedOrigins:  []string{"*"},
			MaxUploadMB:     10,
			ShutdownTimeout: 10 * time.Second,
			VerdictRate:     0.2,
			VerdictBurst:    2,
		},
		Store: StoreConfig{Driver: "postgres"},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			AutoMigrate:     false,
		},
		Adjudicator: AdjudicatorConfig{
			BaseURL:      "https://api.groq.com/openai/v1",
			Model:        "llama-3.3-70b-versatile",
			Temperature:  0.3,
			MaxTokens:    1024,
			TopP:         0.9,
			Timeout:      60 * time.Second,
			Jurisdiction: "India",
		},
		Policy: PolicyConfig{
			CounterQuota:          5,
			FinalCounterThreshold: 8,
		},
		Closure: ClosureConfig{
			Markers: []string{"final decision", "case closed", "verdict"},
		},
		Broadcast: BroadcastConfig{
			Buffer:    64,
			Channel:   "jurisflow:events",
			KeepAlive: 25 * time.Second,
		},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every default on v so env overrides bind to known keys.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)
	v.SetDefault("http.max_upload_mb", d.HTTP.MaxUploadMB)
	v.SetDefault("http.max_text_bytes", d.HTTP.MaxTextBytes)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("http.verdict_rate", d.HTTP.VerdictRate)
	v.SetDefault("http.verdict_burst", d.HTTP.VerdictBurst)

	v.SetDefault("store.driver", d.Store.Driver)

	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("database.min_conns", d.Database.MinConns)
	v.SetDefault("database.max_conn_lifetime", d.Database.MaxConnLifetime)
	v.SetDefault("database.auto_migrate", d.Database.AutoMigrate)

	v.SetDefault("adjudicator.base_url", d.Adjudicator.BaseURL)
	v.SetDefault("adjudicator.api_key", d.Adjudicator.APIKey)
	v.SetDefault("adjudicator.model", d.Adjudicator.Model)
	v.SetDefault("adjudicator.temperature", d.Adjudicator.Temperature)
	v.SetDefault("adjudicator.max_tokens", d.Adjudicator.MaxTokens)
	v.SetDefault("adjudicator.top_p", d.Adjudicator.TopP)
	v.SetDefault("adjudicator.timeout", d.Adjudicator.Timeout)
	v.SetDefault("adjudicator.jurisdiction", d.Adjudicator.Jurisdiction)

	v.SetDefault("policy.counter_quota", d.Policy.CounterQuota)
	v.SetDefault("policy.final_counter_threshold", d.Policy.FinalCounterThreshold)

	v.SetDefault("closure.argument_ceiling", d.Closure.ArgumentCeiling)
	v.SetDefault("closure.markers", d.Closure.Markers)

	v.SetDefault("broadcast.buffer", d.Broadcast.Buffer)
	v.SetDefault("broadcast.redis_addr", d.Broadcast.RedisAddr)
	v.SetDefault("broadcast.redis_password", d.Broadcast.RedisPassword)
	v.SetDefault("broadcast.redis_db", d.Broadcast.RedisDB)
	v.SetDefault("broadcast.channel", d.Broadcast.Channel)
	v.SetDefault("broadcast.keep_alive", d.Broadcast.KeepAlive)

	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of postgres, memory", c.Store.Driver))
	}
	if c.Policy.CounterQuota < 0 || c.Policy.FinalCounterThreshold < 0 {
		errs = append(errs, errors.New("policy thresholds must not be negative"))
	} else if quota, threshold := c.Policy.effective(); threshold > 2*quota {
		errs = append(errs, fmt.Errorf("policy.final_counter_threshold %d is unreachable with two sides of counter_quota %d", threshold, quota))
	}
	if c.Closure.ArgumentCeiling < 0 {
		errs = append(errs, errors.New("closure.argument_ceiling must not be negative"))
	}
	if c.HTTP.MaxTextBytes < 0 {
		errs = append(errs, errors.New("http.max_text_bytes must not be negative"))
	}
	if c.HTTP.VerdictRate < 0 {
		errs = append(errs, errors.New("http.verdict_rate must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// effective resolves zero values to the defaults the engine applies.
func (p PolicyConfig) effective() (quota, threshold int) {
	d := Default().Policy
	quota, threshold = p.CounterQuota, p.FinalCounterThreshold
	if quota == 0 {
		quota = d.CounterQuota
	}
	if threshold == 0 {
		threshold = d.FinalCounterThreshold
	}
	return quota, threshold
}

// SlogLevel maps Log.Level to a slog level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
