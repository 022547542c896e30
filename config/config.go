// Package config provides configuration loading and validation for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/z0rr0/wattcast/forecaster"
	"github.com/z0rr0/wattcast/series"
)

const (
	defaultHorizon      = 168
	defaultMaxHorizon   = 720
	defaultHistoryHours = 90 * 24
	defaultMetricsAddr  = "localhost:9090"
)

// Config represents the application configuration.
type Config struct {
	Base      Base      `toml:"base"`
	Database  Database  `toml:"database"`
	Model     Model     `toml:"model"`
	Forecast  Forecast  `toml:"forecast"`
	Refresher Refresher `toml:"refresher"`
	Telegram  Telegram  `toml:"telegram"`
	Metrics   Metrics   `toml:"metrics"`
}

type Base struct {
	Timezone     string             `toml:"timezone"`
	Admins       []int64            `toml:"admins"`
	Debug        bool               `toml:"debug"`
	TimeLocation *time.Location     `toml:"-"`
	AdminIDs     map[int64]struct{} `toml:"-"`
}

type Database struct {
	Path         string        `toml:"path"`
	QueryTimeout int           `toml:"query_timeout"`
	Timeout      time.Duration `toml:"-"`
}

// Model contains paths of the trained model artifacts.
type Model struct {
	Path     string `toml:"path"`
	Features string `toml:"features"`
}

// Forecast contains forecast engine configuration.
type Forecast struct {
	Target       string   `toml:"target"`
	Horizon      int      `toml:"horizon"`
	MaxHorizon   int      `toml:"max_horizon"`
	HistoryHours int      `toml:"history_hours"`
	Regressors   []string `toml:"regressors"`
	SubMeters    []string `toml:"submeters"`
	Residual     string   `toml:"residual"`
	WeeklyPeriod int      `toml:"weekly_period"`
}

// Engine returns the forecast engine configuration.
func (f *Forecast) Engine() forecaster.Config {
	cfg := forecaster.DefaultConfig()

	cfg.Target = f.Target
	cfg.Regressors = f.Regressors
	cfg.SubMeters = f.SubMeters
	cfg.Residual = f.Residual
	cfg.Policy = forecaster.WeeklyCycle{Period: f.WeeklyPeriod}

	return cfg
}

// Refresher contains periodic forecast configuration.
type Refresher struct {
	Active    bool          `toml:"active"`
	Period    int           `toml:"period"`
	Retention int           `toml:"retention"` // days to keep stored runs, 0 keeps all
	Interval  time.Duration `toml:"-"`
	Keep      time.Duration `toml:"-"`
}

// Telegram contains Telegram bot configuration.
type Telegram struct {
	Active bool   `toml:"active"`
	Token  string `toml:"token"`
}

// Metrics contains prometheus endpoint configuration.
type Metrics struct {
	Active bool   `toml:"active"`
	Addr   string `toml:"addr"`
}

// Load reads and parses a TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := new(Config)
	if err = toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err = cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// validate checks if the configuration is valid and sets defaults.
func (c *Config) validate() error {
	if c.Base.Timezone == "" {
		c.Base.TimeLocation = time.UTC
	} else {
		location, err := time.LoadLocation(c.Base.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", c.Base.Timezone, err)
		}
		c.Base.TimeLocation = location
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Database.QueryTimeout <= 0 {
		return errors.New("database query timeout is required")
	}
	c.Database.Timeout = time.Duration(c.Database.QueryTimeout) * time.Second

	if c.Model.Features != "" && c.Model.Path == "" {
		return errors.New("model features file requires model path")
	}

	if err := c.Forecast.validate(); err != nil {
		return err
	}

	if c.Refresher.Active {
		if c.Refresher.Period <= 0 {
			return errors.New("refresher period must be greater than zero")
		}
		c.Refresher.Interval = time.Duration(c.Refresher.Period) * time.Second
	}
	if c.Refresher.Retention < 0 {
		return errors.New("refresher retention must not be negative")
	}
	c.Refresher.Keep = time.Duration(c.Refresher.Retention) * 24 * time.Hour

	if c.Telegram.Active && c.Telegram.Token == "" {
		return errors.New("telegram token is required")
	}

	if c.Metrics.Active && c.Metrics.Addr == "" {
		c.Metrics.Addr = defaultMetricsAddr
	}

	adminsMap := make(map[int64]struct{})
	for _, adminID := range c.Base.Admins {
		adminsMap[adminID] = struct{}{}
	}
	c.Base.AdminIDs = adminsMap

	return nil
}

func (f *Forecast) validate() error {
	engine := forecaster.DefaultConfig()

	if f.Target == "" {
		f.Target = engine.Target
	}
	if f.Regressors == nil {
		f.Regressors = engine.Regressors
	}
	if f.SubMeters == nil {
		f.SubMeters = engine.SubMeters
	}
	if f.Residual == "" {
		f.Residual = engine.Residual
	}
	if f.WeeklyPeriod == 0 {
		f.WeeklyPeriod = forecaster.DefaultPeriod
	}
	if f.Horizon == 0 {
		f.Horizon = defaultHorizon
	}
	if f.MaxHorizon == 0 {
		f.MaxHorizon = defaultMaxHorizon
	}
	if f.HistoryHours == 0 {
		f.HistoryHours = defaultHistoryHours
	}

	switch {
	case f.WeeklyPeriod < 1:
		return fmt.Errorf("forecast weekly period must be positive, got %d", f.WeeklyPeriod)
	case f.MaxHorizon < 1:
		return fmt.Errorf("forecast max horizon must be positive, got %d", f.MaxHorizon)
	case f.Horizon < 1 || f.Horizon > f.MaxHorizon:
		return fmt.Errorf("forecast horizon must be between 1 and %d, got %d", f.MaxHorizon, f.Horizon)
	case f.HistoryHours < 1:
		return fmt.Errorf("forecast history hours must be positive, got %d", f.HistoryHours)
	case slices.Contains(f.Regressors, f.Target) || slices.Contains(f.SubMeters, f.Target):
		return fmt.Errorf("forecast target %q cannot be a regressor", f.Target)
	case f.Residual == f.Target:
		return fmt.Errorf("forecast residual cannot be the target %q", f.Target)
	}

	for _, name := range slices.Concat([]string{f.Target, f.Residual}, f.Regressors, f.SubMeters) {
		if !slices.Contains(series.Columns, name) {
			return fmt.Errorf("forecast column %q is not stored", name)
		}
	}

	return nil
}
