package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-rooms/globals"
)

const (
	defaultListenAddr     = "localhost:8000"
	defaultLogLevel       = "INFO"
	defaultGatewayTimeout = 10 * time.Second
	defaultTokenTTL       = 6 * time.Hour
	defaultReclaimTick    = time.Minute
	defaultIdleThreshold  = 5 * time.Minute
	defaultDedupeSize     = 4096

	envPrefix = "LSROOMS"
)

// Config is the global configuration object, filled from the configuration file(s), the
// environment (LSROOMS_*) and command line flags.
type Config struct {
	LogLevel          string            `mapstructure:"log_level"`
	ListenAddr        string            `mapstructure:"listen_addr"`
	LiveKitConfig     LiveKitConfig     `mapstructure:"livekit"`
	TokenConfig       TokenConfig       `mapstructure:"token"`
	ReclaimConfig     ReclaimConfig     `mapstructure:"reclaim"`
	WebhookConfig     WebhookConfig     `mapstructure:"webhook"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
}

// LiveKitConfig locates the media backend and holds the key pair used to sign credentials.
type LiveKitConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"` // per gateway call
}

type TokenConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// ReclaimConfig configures the idle room reclamation scheduler.
type ReclaimConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
}

type WebhookConfig struct {
	Verify     bool `mapstructure:"verify"`
	DedupeSize int  `mapstructure:"dedupe_size"`
}

// PersistenceConfig selects the store backend: "postgres" or "sqlite" (gorm, DSN) or "buntdb"
// (DSN is the file name, ":memory:" for an in-memory database).
type PersistenceConfig struct {
	Type      string `mapstructure:"type"`
	DSN       string `mapstructure:"dsn"`
	FlockPath string `mapstructure:"flock_path"` // buntdb only, defaults to DSN + ".lock"
}

// An OIDCConfig configures an OpenID Connect provider used to authenticate callers of the join and
// admin endpoints.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.String("listen-addr", "", "http service address (including port)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("livekit.url", "")
	v.SetDefault("livekit.api_key", "")
	v.SetDefault("livekit.api_secret", "")
	v.SetDefault("livekit.timeout", defaultGatewayTimeout)
	v.SetDefault("token.default_ttl", defaultTokenTTL)
	v.SetDefault("reclaim.interval", defaultReclaimTick)
	v.SetDefault("reclaim.idle_threshold", defaultIdleThreshold)
	v.SetDefault("webhook.verify", true)
	v.SetDefault("webhook.dedupe_size", defaultDedupeSize)
	v.SetDefault("persistence.type", "sqlite")
	v.SetDefault("persistence.dsn", "lightspeed-rooms.db")
	v.SetDefault("persistence.flock_path", "")
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. Values may be
// overridden by LSROOMS_* environment variables (f.e. LSROOMS_LIVEKIT_API_SECRET) and by the flags in flagSet.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		if err := v.BindPFlags(flagSet); err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		contents := make([]byte, 0)
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		if err := v.ReadConfig(bytes.NewBuffer(contents)); err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}
	cfg := Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	globals.AppLogger.Debug("config", "listen_addr", cfg.ListenAddr, "livekit_url", cfg.LiveKitConfig.URL,
		"persistence", cfg.PersistenceConfig.Type)
	return &cfg, nil
}

// Validate returns an error for every configuration problem that must keep the process from serving.
func (c *Config) Validate() error {
	var errs []string
	if c.LiveKitConfig.URL == "" {
		errs = append(errs, "livekit.url is required")
	}
	if c.LiveKitConfig.APIKey == "" {
		errs = append(errs, "livekit.api_key is required")
	}
	if c.LiveKitConfig.APISecret == "" {
		errs = append(errs, "livekit.api_secret is required")
	}
	switch c.PersistenceConfig.Type {
	case "postgres", "sqlite", "buntdb":
		if c.PersistenceConfig.DSN == "" {
			errs = append(errs, "persistence.dsn is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown persistence.type %q", c.PersistenceConfig.Type))
	}
	if c.ReclaimConfig.Interval <= 0 {
		errs = append(errs, "reclaim.interval must be positive")
	}
	if c.ReclaimConfig.IdleThreshold <= 0 {
		errs = append(errs, "reclaim.idle_threshold must be positive")
	}
	if len(errs) > 0 {
		return errors.New("invalid configuration: " + strings.Join(errs, "; "))
	}
	return nil
}
