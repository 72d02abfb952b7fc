package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/rewardline/entitle/internal/app/maintenance"
	"github.com/rewardline/entitle/internal/infra/catalog"
	"github.com/rewardline/entitle/internal/infra/logging"
)

// HomeEnv overrides the data directory.
const HomeEnv = "ENTITLE_HOME"

// Config is the full daemon configuration (config.toml).
type Config struct {
	API         APIConfig                  `toml:"api"`
	Database    DatabaseConfig             `toml:"database"`
	Log         LogConfig                  `toml:"log"`
	Metrics     MetricsConfig              `toml:"metrics"`
	Maintenance MaintenanceConfig          `toml:"maintenance"`
	Scheduler   SchedulerConfig            `toml:"scheduler"`
	Notify      NotifyConfig               `toml:"notify"`
	Catalog     map[string]CatalogOverride `toml:"catalog"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig locates the SQLite data directory.
type DatabaseConfig struct {
	Path string `toml:"path"` // empty = home directory
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// MaintenanceConfig mirrors maintenance.Config.
type MaintenanceConfig struct {
	ViolationThreshold    int `toml:"violation_threshold"`
	ViolationWindowMonths int `toml:"violation_window_months"`
	Workers               int `toml:"workers"`
}

// SchedulerConfig controls the periodic sweep.
type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled"`
	SweepInterval string `toml:"sweep_interval"` // Go duration, e.g. "24h"
}

// NotifyConfig controls outbox delivery to the notification service.
type NotifyConfig struct {
	WebhookURL       string `toml:"webhook_url"` // empty = log only
	DispatchInterval string `toml:"dispatch_interval"`
	BatchSize        int    `toml:"batch_size"`
}

// CatalogOverride changes selected fields of one asset requirement.
type CatalogOverride struct {
	TierName                *string          `toml:"tier"`
	MonthsRequired          *int             `toml:"months_required"`
	MinReferrals            *int             `toml:"min_referrals"`
	MinTeamVolume           *decimal.Decimal `toml:"min_team_volume"`
	ValueMin                *decimal.Decimal `toml:"value_min"`
	ValueMax                *decimal.Decimal `toml:"value_max"`
	MaintenancePeriodMonths *int             `toml:"maintenance_period_months"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	m := maintenance.DefaultConfig()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{Enabled: true},
		Maintenance: MaintenanceConfig{
			ViolationThreshold:    m.ViolationThreshold,
			ViolationWindowMonths: m.ViolationWindowMonths,
			Workers:               m.Workers,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			SweepInterval: "24h",
		},
		Notify: NotifyConfig{
			DispatchInterval: "30s",
			BatchSize:        100,
		},
	}
}

// Home returns the data directory: $ENTITLE_HOME, else ~/.entitle.
func Home() string {
	if h := os.Getenv(HomeEnv); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".entitle"
	}
	return filepath.Join(home, ".entitle")
}

// DefaultConfigPath is config.toml inside Home.
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadConfig reads a TOML file over the defaults. A missing file yields the
// defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if err := c.MaintenancePolicy().Validate(); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if _, err := c.SweepInterval(); err != nil {
		return err
	}
	if _, err := c.DispatchInterval(); err != nil {
		return err
	}
	if c.Notify.BatchSize < 1 {
		return fmt.Errorf("notify.batch_size must be >= 1, got %d", c.Notify.BatchSize)
	}
	if _, err := c.BuildCatalog(); err != nil {
		return err
	}
	if _, err := logging.New(c.LogSettings()); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// DataDir resolves the database directory.
func (c Config) DataDir() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return Home()
}

// Addr is the API listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// SweepInterval parses scheduler.sweep_interval.
func (c Config) SweepInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Scheduler.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("scheduler.sweep_interval %q: %w", c.Scheduler.SweepInterval, err)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("scheduler.sweep_interval %s below 1m", d)
	}
	return d, nil
}

// DispatchInterval parses notify.dispatch_interval.
func (c Config) DispatchInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Notify.DispatchInterval)
	if err != nil {
		return 0, fmt.Errorf("notify.dispatch_interval %q: %w", c.Notify.DispatchInterval, err)
	}
	if d < time.Second {
		return 0, fmt.Errorf("notify.dispatch_interval %s below 1s", d)
	}
	return d, nil
}

// MaintenancePolicy converts the [maintenance] section.
func (c Config) MaintenancePolicy() maintenance.Config {
	return maintenance.Config{
		ViolationThreshold:    c.Maintenance.ViolationThreshold,
		ViolationWindowMonths: c.Maintenance.ViolationWindowMonths,
		Workers:               c.Maintenance.Workers,
	}
}

// LogSettings converts the [log] section.
func (c Config) LogSettings() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// BuildCatalog applies [catalog.<TYPE>] overrides to the default table.
func (c Config) BuildCatalog() (*catalog.Catalog, error) {
	if len(c.Catalog) == 0 {
		return catalog.Default(), nil
	}
	overrides := make(map[string]catalog.Override, len(c.Catalog))
	for name, o := range c.Catalog {
		overrides[name] = catalog.Override{
			TierName:                o.TierName,
			MonthsRequired:          o.MonthsRequired,
			MinReferrals:            o.MinReferrals,
			MinTeamVolume:           o.MinTeamVolume,
			ValueMin:                o.ValueMin,
			ValueMax:                o.ValueMax,
			MaintenancePeriodMonths: o.MaintenancePeriodMonths,
		}
	}
	return catalog.Default().WithOverrides(overrides)
}
