// Package config loads server settings from defaults, an optional YAML
// file, a .env file, TELEPHONE_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dasmlab/telephone/pkg/relay"
	"github.com/dasmlab/telephone/pkg/translate"
)

// EnvPrefix prefixes every environment variable, e.g. TELEPHONE_ENGINE_TYPE.
const EnvPrefix = "TELEPHONE"

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Sessions SessionsConfig `mapstructure:"sessions"`
}

type ServerConfig struct {
	HTTPPort       int      `mapstructure:"http_port"`
	GRPCPort       int      `mapstructure:"grpc_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig selects and guards the translation backend.
type EngineConfig struct {
	Type            string        `mapstructure:"type"`
	URL             string        `mapstructure:"url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	Detector        string        `mapstructure:"detector"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
}

type RelayConfig struct {
	MaxHops              int           `mapstructure:"max_hops"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	ConfidenceThreshold  float64       `mapstructure:"confidence_threshold"`
	DefaultLanguage      string        `mapstructure:"default_language"`
	Blacklist            []string      `mapstructure:"blacklist"`
	MaxInputLength       int           `mapstructure:"max_input_length"`
	SyncRequireDetection bool          `mapstructure:"sync_require_detection"`
}

type SessionsConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"http-port":       "server.http_port",
	"grpc-port":       "server.grpc_port",
	"allowed-origins": "server.allowed_origins",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"engine":          "engine.type",
	"engine-url":      "engine.url",
	"engine-api-key":  "engine.api_key",
	"engine-model":    "engine.model",
	"detector":        "engine.detector",
	"max-hops":        "relay.max_hops",
	"max-retries":     "relay.max_retries",
	"retry-delay":     "relay.retry_delay",
}

// RegisterFlags adds the server flags to fs. Their defaults only document
// the built-in values; a flag overrides other sources only when set.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default is $HOME/.telephone.yaml or ./.telephone.yaml)")
	fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	fs.Int("http-port", 8000, "HTTP/WebSocket server port")
	fs.Int("grpc-port", 50051, "gRPC health server port")
	fs.StringSlice("allowed-origins", []string{"http://localhost:5173"}, "allowed CORS/WebSocket origins (* for any)")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.String("engine", string(translate.EngineLibreTranslate), "Translation engine: google, libretranslate, openai or gemini")
	fs.String("engine-url", "http://localhost:5000", "Base URL for the translation engine API")
	fs.String("engine-api-key", "", "API key for the translation engine")
	fs.String("engine-model", "", "Model name for LLM engines")
	fs.String("detector", string(translate.DetectorEngine), "Language detector: engine or lingua")
	fs.Int("max-hops", relay.DefaultMaxHops, "Maximum number of successful hops")
	fs.Int("max-retries", relay.DefaultMaxRetries, "Attempts per hop")
	fs.Duration("retry-delay", relay.DefaultRetryDelay, "Delay between attempts of a hop")
}

// setDefaults registers the built-in values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("engine.type", string(translate.EngineLibreTranslate))
	v.SetDefault("engine.url", "http://localhost:5000")
	v.SetDefault("engine.api_key", "")
	v.SetDefault("engine.model", "")
	v.SetDefault("engine.detector", string(translate.DetectorEngine))
	v.SetDefault("engine.call_timeout", translate.DefaultCallTimeout)
	v.SetDefault("engine.rate_per_second", translate.DefaultRatePerSecond)
	v.SetDefault("engine.burst", translate.DefaultBurst)
	v.SetDefault("engine.breaker_failures", translate.DefaultBreakerFailures)
	v.SetDefault("engine.breaker_timeout", translate.DefaultBreakerTimeout)
	v.SetDefault("engine.health_interval", 30*time.Second)

	v.SetDefault("relay.max_hops", relay.DefaultMaxHops)
	v.SetDefault("relay.max_retries", relay.DefaultMaxRetries)
	v.SetDefault("relay.retry_delay", relay.DefaultRetryDelay)
	v.SetDefault("relay.confidence_threshold", relay.DefaultConfidenceThreshold)
	v.SetDefault("relay.default_language", relay.DefaultFallbackLanguage)
	v.SetDefault("relay.blacklist", []string{})
	v.SetDefault("relay.max_input_length", 5000)
	v.SetDefault("relay.sync_require_detection", true)

	v.SetDefault("sessions.ttl", 30*time.Minute)
	v.SetDefault("sessions.cleanup_interval", time.Minute)
	v.SetDefault("sessions.idle_timeout", 10*time.Minute)
	v.SetDefault("sessions.run_timeout", 30*time.Minute)
}

// Load builds the configuration. fs may be nil; otherwise the flags from
// RegisterFlags are honoured, including --config and --env-file.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	envFile, cfgFile := ".env", ""
	if fs != nil {
		if f := fs.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
		if f := fs.Lookup("config"); f != nil {
			cfgFile = f.Value.String()
		}
	}

	if envFile != "" {
		// The file is optional when variables come from the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".telephone")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(validPort(c.Server.HTTPPort), "server.http_port %d is out of range", c.Server.HTTPPort)
	check(validPort(c.Server.GRPCPort), "server.grpc_port %d is out of range", c.Server.GRPCPort)
	check(c.Server.HTTPPort != c.Server.GRPCPort, "server.http_port and server.grpc_port must differ")

	if _, err := translate.ParseEngineType(c.Engine.Type); err != nil {
		errs = append(errs, fmt.Errorf("engine.type: %w", err))
	}
	if _, err := translate.ParseDetectorType(c.Engine.Detector); err != nil {
		errs = append(errs, fmt.Errorf("engine.detector: %w", err))
	}
	check(c.Engine.CallTimeout > 0, "engine.call_timeout must be positive")
	check(c.Engine.BreakerTimeout > 0, "engine.breaker_timeout must be positive")
	check(c.Engine.BreakerFailures > 0, "engine.breaker_failures must be at least 1")
	check(c.Engine.HealthInterval > 0, "engine.health_interval must be positive")

	check(c.Relay.MaxHops >= 1, "relay.max_hops must be at least 1")
	check(c.Relay.MaxRetries >= 1, "relay.max_retries must be at least 1")
	check(c.Relay.RetryDelay >= 0, "relay.retry_delay must not be negative")
	check(c.Relay.ConfidenceThreshold > 0 && c.Relay.ConfidenceThreshold < 1,
		"relay.confidence_threshold %v must be in (0, 1)", c.Relay.ConfidenceThreshold)
	check(strings.TrimSpace(c.Relay.DefaultLanguage) != "", "relay.default_language is required")
	check(c.Relay.MaxInputLength >= 1, "relay.max_input_length must be at least 1")

	check(c.Sessions.TTL > 0, "sessions.ttl must be positive")
	check(c.Sessions.CleanupInterval > 0, "sessions.cleanup_interval must be positive")
	check(c.Sessions.IdleTimeout > 0, "sessions.idle_timeout must be positive")
	check(c.Sessions.RunTimeout > 0, "sessions.run_timeout must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}
