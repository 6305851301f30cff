package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string `mapstructure:"PORT"`
	Env                string `mapstructure:"ENV"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"DB_MIN_CONNS"`
	MLLPMaxFrameBytes  int    `mapstructure:"MLLP_MAX_FRAME_BYTES"`
	MLLPReadTimeoutSec int    `mapstructure:"MLLP_READ_TIMEOUT_SECONDS"`
	HTTPTimeoutSec     int    `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	// StrictPAMFR rejects ADT^A08 and upgrades missing ZBE-6 on
	// UPDATE/CANCEL to an error. Default false.
	StrictPAMFR bool `mapstructure:"STRICT_PAM_FR"`
	// PAMAutoCreateUF allows inbound messages to create placeholder
	// functional units for unknown codes. Default false.
	PAMAutoCreateUF bool `mapstructure:"PAM_AUTO_CREATE_UF"`
	// MFNAutoVirtualPole synthesizes a virtual pole/service chain above
	// auto-created functional units.
	MFNAutoVirtualPole bool   `mapstructure:"MFN_AUTO_VIRTUAL_POLE"`
	FilePollIntervalMS int    `mapstructure:"FILE_POLL_INTERVAL_MS"`
	ZBEExtensionURL    string `mapstructure:"ZBE_EXTENSION_URL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MLLP_MAX_FRAME_BYTES", 1<<20)
	v.SetDefault("MLLP_READ_TIMEOUT_SECONDS", 30)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	v.SetDefault("STRICT_PAM_FR", false)
	v.SetDefault("PAM_AUTO_CREATE_UF", false)
	v.SetDefault("MFN_AUTO_VIRTUAL_POLE", false)
	v.SetDefault("FILE_POLL_INTERVAL_MS", 2000)
	v.SetDefault("ZBE_EXTENSION_URL", "https://meddatabridge.example/fhir/StructureDefinition/zbe-movement")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MLLP_MAX_FRAME_BYTES")
	v.BindEnv("MLLP_READ_TIMEOUT_SECONDS")
	v.BindEnv("HTTP_TIMEOUT_SECONDS")
	v.BindEnv("STRICT_PAM_FR")
	v.BindEnv("PAM_AUTO_CREATE_UF")
	v.BindEnv("MFN_AUTO_VIRTUAL_POLE")
	v.BindEnv("FILE_POLL_INTERVAL_MS")
	v.BindEnv("ZBE_EXTENSION_URL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// MLLPReadTimeout returns the MLLP read deadline as a duration.
func (c *Config) MLLPReadTimeout() time.Duration {
	return time.Duration(c.MLLPReadTimeoutSec) * time.Second
}

// HTTPTimeout returns the outbound HTTP deadline as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.MLLPMaxFrameBytes <= 0 {
		return fmt.Errorf("MLLP_MAX_FRAME_BYTES must be positive, got %d", c.MLLPMaxFrameBytes)
	}
	if c.MLLPReadTimeoutSec <= 0 {
		return fmt.Errorf("MLLP_READ_TIMEOUT_SECONDS must be positive, got %d", c.MLLPReadTimeoutSec)
	}
	if c.HTTPTimeoutSec <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive, got %d", c.HTTPTimeoutSec)
	}
	return nil
}
