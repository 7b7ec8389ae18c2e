package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SinkNone     = "none"
	SinkJSONL    = "jsonl"
	SinkPostgres = "postgres"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel string

	Sink      string
	Out       string
	ViewsOut  string
	PGDSN     string
	Workers   int
	Migrate   bool
	PGTimeout time.Duration

	RetryAttempts uint
	RetryDelay    time.Duration

	Fee          uint16
	TickSpacing  int32
	CommunityFee uint16
}

// Load merges config file, environment variables, and flags into Config.
// Environment variables use the CLAMM_ prefix, e.g. CLAMM_PG_DSN.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLAMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("sink", SinkNone)
	v.SetDefault("out", "./data/events.jsonl")
	v.SetDefault("views-out", "")
	v.SetDefault("workers", 4)
	v.SetDefault("migrate", true)
	v.SetDefault("pg-timeout", 30*time.Second)
	v.SetDefault("retry-attempts", 5)
	v.SetDefault("retry-delay", 200*time.Millisecond)
	v.SetDefault("fee", 3000)
	v.SetDefault("tick-spacing", 60)
	v.SetDefault("community-fee", 0)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("clamm")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:      v.GetString("log-level"),
		Sink:          strings.ToLower(v.GetString("sink")),
		Out:           v.GetString("out"),
		ViewsOut:      v.GetString("views-out"),
		PGDSN:         v.GetString("pg-dsn"),
		Workers:       v.GetInt("workers"),
		Migrate:       v.GetBool("migrate"),
		PGTimeout:     v.GetDuration("pg-timeout"),
		RetryAttempts: v.GetUint("retry-attempts"),
		RetryDelay:    v.GetDuration("retry-delay"),
		Fee:           v.GetUint16("fee"),
		TickSpacing:   v.GetInt32("tick-spacing"),
		CommunityFee:  v.GetUint16("community-fee"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Sink {
	case SinkNone:
	case SinkJSONL:
		if c.Out == "" {
			return errors.New("config: out is required for the jsonl sink")
		}
	case SinkPostgres:
		if c.PGDSN == "" {
			return errors.New("config: pg-dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("config: unknown sink %q", c.Sink)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	return nil
}
