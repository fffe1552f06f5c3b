// Package config loads the vault engine configuration: defaults first,
// then an optional YAML file, then environment variable overrides, then
// validation. Monetary values are smallest units; rates and fees are basis
// points.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/optvault/vault-engine/internal/model"
)

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Vault    VaultConfig    `yaml:"vault"`
	Curve    CurveConfig    `yaml:"curve"`
	Oracle   OracleConfig   `yaml:"oracle"`
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig carries the persistence connection strings. Empty URL
// means the in-memory store.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// VaultConfig is the vault's identity, fee schedule, and risk limits.
type VaultConfig struct {
	Admin          string              `yaml:"admin"`
	Underlying     string              `yaml:"underlying"`
	RateBps        int64               `yaml:"rate_bps"`
	InitialReserve int64               `yaml:"initial_reserve"`
	FeeBps         int64               `yaml:"fee_bps"`
	Risk           model.RiskParams    `yaml:"risk"`
	Concentration  ConcentrationConfig `yaml:"concentration"`
}

// ConcentrationConfig caps notional per expiry and per expiry window.
// Zero MaxPerExpiry disables the limiter.
type ConcentrationConfig struct {
	MaxPerExpiry int64 `yaml:"max_per_expiry"`
	MaxWindow    int64 `yaml:"max_window"`
	WindowHours  int64 `yaml:"window_hours"`
}

// CurveConfig seeds the premium curve parameters.
type CurveConfig struct {
	DefaultIVBps       int64 `yaml:"default_iv_bps"`
	PutSkewBps         int64 `yaml:"put_skew_bps"`
	LiquidityBps       int64 `yaml:"liquidity_bps"`
	ThetaMultiplierBps int64 `yaml:"theta_multiplier_bps"`
	HedgeCostBps       int64 `yaml:"hedge_cost_bps"`
}

// OracleConfig selects and parameterizes the spot price source.
type OracleConfig struct {
	Mode       string `yaml:"mode"` // "fixed" or "bybit"
	BaseURL    string `yaml:"base_url"`
	Decimals   int32  `yaml:"decimals"`
	FixedPrice int64  `yaml:"fixed_price"`
}

// Load builds the configuration from defaults, the YAML file at path (if
// present), and environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.loadFromFile(path); err != nil {
				return nil, fmt.Errorf("config file: %w", err)
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Server.Port = "8080"
	c.Database.CacheTTLSeconds = 30

	c.Vault.Admin = "admin"
	c.Vault.Underlying = "BTCUSDT"
	c.Vault.RateBps = 500
	c.Vault.FeeBps = 50
	c.Vault.Risk = model.RiskParams{
		MaxSingleOptionSize: 1_000,
		MaxTotalExposure:    100_000_000,
		HedgeThreshold:      50_000,
		HedgeRatioBps:       8_000,
	}
	c.Vault.Concentration.WindowHours = 24

	c.Curve.DefaultIVBps = 8_000
	c.Curve.ThetaMultiplierBps = 10_000

	c.Oracle.Mode = "bybit"
	c.Oracle.BaseURL = "https://api.bybit.com"
	c.Oracle.Decimals = 6
}

func (c *Config) loadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Database.RedisURL = v
	}
	if v := os.Getenv("VAULT_ADMIN"); v != "" {
		c.Vault.Admin = v
	}
	if v := os.Getenv("VAULT_UNDERLYING"); v != "" {
		c.Vault.Underlying = v
	}
	if v := os.Getenv("ORACLE_MODE"); v != "" {
		c.Oracle.Mode = v
	}
	if v := os.Getenv("ORACLE_URL"); v != "" {
		c.Oracle.BaseURL = v
	}
	if v := os.Getenv("ORACLE_FIXED_PRICE"); v != "" {
		if p, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Oracle.FixedPrice = p
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port %q is not numeric", c.Server.Port)
	}
	if c.Vault.Admin == "" {
		return fmt.Errorf("vault admin must be set")
	}
	if c.Vault.Underlying == "" {
		return fmt.Errorf("vault underlying must be set")
	}
	if c.Vault.FeeBps < 0 || c.Vault.FeeBps > 10_000 {
		return fmt.Errorf("fee_bps %d out of [0, 10000]", c.Vault.FeeBps)
	}
	if r := c.Vault.Risk.HedgeRatioBps; r <= 0 || r > 10_000 {
		return fmt.Errorf("hedge_ratio_bps %d out of (0, 10000]", r)
	}
	if cc := c.Vault.Concentration; cc.MaxPerExpiry > 0 {
		if cc.MaxWindow < cc.MaxPerExpiry {
			return fmt.Errorf("concentration max_window %d below max_per_expiry %d", cc.MaxWindow, cc.MaxPerExpiry)
		}
		if cc.WindowHours <= 0 {
			return fmt.Errorf("concentration window_hours must be positive")
		}
	}
	if c.Curve.DefaultIVBps <= 0 {
		return fmt.Errorf("default_iv_bps must be positive")
	}
	switch c.Oracle.Mode {
	case "fixed":
		if c.Oracle.FixedPrice <= 0 {
			return fmt.Errorf("fixed oracle needs a positive fixed_price")
		}
	case "bybit":
		if c.Oracle.BaseURL == "" {
			return fmt.Errorf("bybit oracle needs a base_url")
		}
	default:
		return fmt.Errorf("unknown oracle mode %q", c.Oracle.Mode)
	}
	return nil
}
