package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fwojciec/paystream"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultRatePerMinute  = "0.01"
	defaultTickSeconds    = 10
	defaultTickTimeout    = 30 * time.Second
	defaultConfirmTimeout = 15 * time.Second
	defaultVideoTitle     = "Untitled"
	defaultVideoDuration  = 10 * time.Minute
	defaultLogLevel       = "info"
)

type appConfig struct {
	ClearnodeURL    string        `mapstructure:"clearnode-url"`
	Recipient       string        `mapstructure:"recipient"`
	Participant     string        `mapstructure:"participant"`
	Asset           string        `mapstructure:"asset"`
	RatePerMinute   string        `mapstructure:"rate-per-minute"`
	TickSeconds     int           `mapstructure:"tick-seconds"`
	Budget          string        `mapstructure:"budget"`
	FeePercent      int           `mapstructure:"fee-percent"`
	PlatformAddress string        `mapstructure:"platform-address"`
	TickTimeout     time.Duration `mapstructure:"tick-timeout"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm-timeout"`
	VideoTitle      string        `mapstructure:"video-title"`
	VideoDuration   time.Duration `mapstructure:"video-duration"`
	LogFile         string        `mapstructure:"log-file"`
	LogLevel        string        `mapstructure:"log-level"`
	MetricsAddr     string        `mapstructure:"metrics-addr"`
	ReceiptFile     string        `mapstructure:"receipt-file"`

	ConfigPath string `mapstructure:"-"`
}

// loadConfig merges defaults, the config file, PAYSTREAM_* environment
// variables and any flags that were set, in increasing precedence. A missing
// config file is not an error.
func loadConfig(configPath string, flags *pflag.FlagSet) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("PAYSTREAM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("clearnode-url", "")
	v.SetDefault("recipient", "")
	v.SetDefault("participant", "")
	v.SetDefault("asset", paystream.DefaultAsset)
	v.SetDefault("rate-per-minute", defaultRatePerMinute)
	v.SetDefault("tick-seconds", defaultTickSeconds)
	v.SetDefault("budget", "")
	v.SetDefault("fee-percent", 0)
	v.SetDefault("platform-address", "")
	v.SetDefault("tick-timeout", defaultTickTimeout)
	v.SetDefault("confirm-timeout", defaultConfirmTimeout)
	v.SetDefault("video-title", defaultVideoTitle)
	v.SetDefault("video-duration", defaultVideoDuration)
	v.SetDefault("log-file", "")
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("metrics-addr", "")
	v.SetDefault("receipt-file", "")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return cfg, fmt.Errorf("binding flags: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "paystream", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	cfg.Asset = paystream.NormalizeAsset(cfg.Asset)
	cfg.LogFile = expandHome(cfg.LogFile, home)
	cfg.ReceiptFile = expandHome(cfg.ReceiptFile, home)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	if c.TickSeconds < 0 {
		return fmt.Errorf("invalid tick-seconds: %d", c.TickSeconds)
	}
	if c.FeePercent < 0 || c.FeePercent > 100 {
		return fmt.Errorf("invalid fee-percent: %d", c.FeePercent)
	}
	if c.FeePercent > 0 && c.PlatformAddress == "" {
		return errors.New("fee-percent requires platform-address")
	}
	if c.TickTimeout < 0 {
		return fmt.Errorf("invalid tick-timeout: %s", c.TickTimeout)
	}
	if c.ConfirmTimeout < 0 {
		return fmt.Errorf("invalid confirm-timeout: %s", c.ConfirmTimeout)
	}
	if c.VideoDuration <= 0 {
		return fmt.Errorf("invalid video-duration: %s", c.VideoDuration)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	return nil
}

// validateWatch checks the settings a watch session cannot run without.
func (c appConfig) validateWatch() error {
	var missing []string
	for _, kv := range []struct{ key, value string }{
		{"clearnode-url", c.ClearnodeURL},
		{"recipient", c.Recipient},
		{"participant", c.Participant},
	} {
		if kv.value == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c appConfig) plan() paystream.Plan {
	return paystream.Plan{
		RatePerMinute: c.RatePerMinute,
		TickSeconds:   c.TickSeconds,
		Budget:        c.Budget,
		Asset:         c.Asset,
	}
}

func expandHome(path, home string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return path
}
