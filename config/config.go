/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults()
  2. YAML file (config.yaml)
  3. .env file, loaded into the process environment
  4. LEDGER_* environment variables
  5. Command-line flags (applied by cmd/server)

EXAMPLE config.yaml:
  server:
    host: 0.0.0.0
    port: 8080
  database:
    path: ./data/credits.db
  log:
    level: debug
    pretty: true
  credits:
    new_user_bonus: 100
    expiring_horizon: 168h
  incentive:
    check_in_base: 10
    cycle_days: 30
    milestones:
      - {day: 5, bonus: 10}
      - {day: 10, bonus: 30}
      - {day: 30, bonus: 60}
    share_reward: 10
    validity_months: 1
  ids:
    node: 1
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/credit-ledger/credits"
	"github.com/warp/credit-ledger/incentive"
	"github.com/warp/credit-ledger/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Database  DatabaseConfig     `yaml:"database"`
	Log       logger.Config      `yaml:"log"`
	Credits   CreditsConfig      `yaml:"credits"`
	Incentive incentive.Schedule `yaml:"incentive"`
	IDs       IDConfig           `yaml:"ids"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path of the SQLite file. ":memory:" keeps everything in process.
	Path string `yaml:"path"`
}

type CreditsConfig struct {
	NewUserBonus     int64         `yaml:"new_user_bonus"`
	ExpiringHorizon  time.Duration `yaml:"expiring_horizon"`
	TimelineDefault  int           `yaml:"timeline_default"`
	TimelineMax      int           `yaml:"timeline_max"`
	ImageCreditPrice string        `yaml:"image_credit_price"`
	VideoCreditPrice string        `yaml:"video_credit_price"`
	VoidReason       string        `yaml:"void_reason"`
}

type IDConfig struct {
	// Snowflake node id, unique per writer process.
	Node int64 `yaml:"node"`
}

func Defaults() Config {
	engine := credits.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{Path: "credits.db"},
		Log:      logger.Config{Level: "info", TimeFormat: time.RFC3339},
		Credits: CreditsConfig{
			NewUserBonus:     engine.NewUserBonus,
			ExpiringHorizon:  engine.ExpiringHorizon,
			TimelineDefault:  engine.TimelineDefault,
			TimelineMax:      engine.TimelineMax,
			ImageCreditPrice: engine.ImageCreditPrice.String(),
			VideoCreditPrice: engine.VideoCreditPrice.String(),
			VoidReason:       engine.VoidReason,
		},
		Incentive: incentive.DefaultSchedule(),
		IDs:       IDConfig{Node: 1},
	}
}

// Load reads the YAML file at path (missing file = defaults), then the .env
// file and LEDGER_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("LEDGER_HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := os.LookupEnv("LEDGER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEDGER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("LEDGER_DB_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := os.LookupEnv("LEDGER_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("LEDGER_LOG_PRETTY"); ok {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEDGER_LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = pretty
	}
	if v, ok := os.LookupEnv("LEDGER_NODE_ID"); ok {
		node, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("LEDGER_NODE_ID: %w", err)
		}
		c.IDs.Node = node
	}
	if v, ok := os.LookupEnv("LEDGER_NEW_USER_BONUS"); ok {
		bonus, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("LEDGER_NEW_USER_BONUS: %w", err)
		}
		c.Credits.NewUserBonus = bonus
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.IDs.Node < 0 || c.IDs.Node > 1023 {
		return fmt.Errorf("ids.node must be within 0-1023, got %d", c.IDs.Node)
	}
	if c.Credits.NewUserBonus <= 0 {
		return fmt.Errorf("credits.new_user_bonus must be positive, got %d", c.Credits.NewUserBonus)
	}
	if c.Credits.TimelineMax < 1 {
		return fmt.Errorf("credits.timeline_max must be positive, got %d", c.Credits.TimelineMax)
	}
	if c.Incentive.CheckInBase <= 0 {
		return fmt.Errorf("incentive.check_in_base must be positive, got %d", c.Incentive.CheckInBase)
	}
	if c.Incentive.ShareReward <= 0 {
		return fmt.Errorf("incentive.share_reward must be positive, got %d", c.Incentive.ShareReward)
	}
	if c.Incentive.ValidityMonths < 1 {
		return fmt.Errorf("incentive.validity_months must be positive, got %d", c.Incentive.ValidityMonths)
	}
	if _, err := c.Credits.Engine(); err != nil {
		return err
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Engine converts the credits section into an engine configuration.
func (c CreditsConfig) Engine() (credits.Config, error) {
	cfg := credits.DefaultConfig()
	cfg.NewUserBonus = c.NewUserBonus
	if c.ExpiringHorizon > 0 {
		cfg.ExpiringHorizon = c.ExpiringHorizon
	}
	if c.TimelineDefault > 0 {
		cfg.TimelineDefault = c.TimelineDefault
	}
	if c.TimelineMax > 0 {
		cfg.TimelineMax = c.TimelineMax
	}
	if c.VoidReason != "" {
		cfg.VoidReason = c.VoidReason
	}

	var err error
	if c.ImageCreditPrice != "" {
		if cfg.ImageCreditPrice, err = decimal.NewFromString(c.ImageCreditPrice); err != nil {
			return cfg, fmt.Errorf("credits.image_credit_price: %w", err)
		}
	}
	if c.VideoCreditPrice != "" {
		if cfg.VideoCreditPrice, err = decimal.NewFromString(c.VideoCreditPrice); err != nil {
			return cfg, fmt.Errorf("credits.video_credit_price: %w", err)
		}
	}
	return cfg, nil
}
