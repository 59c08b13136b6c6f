// Package config loads the settings of the vkframe program.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Driver    DriverConfig    `mapstructure:"driver"`
	Window    WindowConfig    `mapstructure:"window"`
	SwapChain SwapChainConfig `mapstructure:"swapchain"`
	Run       RunConfig       `mapstructure:"run"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type DriverConfig struct {
	Name       string `mapstructure:"name"`
	Adapter    int    `mapstructure:"adapter"`
	Validation bool   `mapstructure:"validation"`

	// Settings of the software driver.
	SoftLatency      time.Duration `mapstructure:"soft_latency"`
	SoftMemoryBudget int64         `mapstructure:"soft_memory_budget"`
}

type WindowConfig struct {
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	Title     string `mapstructure:"title"`
	Resizable bool   `mapstructure:"resizable"`
}

type SwapChainConfig struct {
	PresentMode    string        `mapstructure:"present_mode"`
	ImageCount     int           `mapstructure:"image_count"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type RunConfig struct {
	Frames     int       `mapstructure:"frames"`
	ClearColor []float32 `mapstructure:"clear_color"`
	StatsEvery int       `mapstructure:"stats_every"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
	Debug   bool   `mapstructure:"debug"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Driver: DriverConfig{
			Name:       "vulkan",
			Adapter:    -1,
			Validation: false,
		},
		Window: WindowConfig{
			Width:     800,
			Height:    600,
			Title:     "vkframe",
			Resizable: true,
		},
		SwapChain: SwapChainConfig{
			PresentMode: driver.PresentMailbox.String(),
			ImageCount:  3,
		},
		Run: RunConfig{
			Frames:     0,
			ClearColor: []float32{0, 0, 0, 1},
			StatsEvery: 0,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads the configuration. Defaults are overridden by the YAML file at
// cfgFile (or config.yaml in ~/.vkframe or the working directory when cfgFile
// is empty) and then by VKFRAME_* environment variables.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.New(), cfgFile)
}

// LoadWith is Load on a caller provided viper instance, which may already
// have command line flags bound to it.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".vkframe"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("VKFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validDrivers := []string{"vulkan", "soft"}
	if !contains(validDrivers, c.Driver.Name) {
		return errors.Newf("driver.name must be one of: %v", validDrivers)
	}
	if c.Driver.SoftLatency < 0 {
		return errors.New("driver.soft_latency must not be negative")
	}
	if c.Driver.SoftMemoryBudget < 0 {
		return errors.New("driver.soft_memory_budget must not be negative")
	}

	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.New("window.width and window.height must be positive")
	}

	if _, err := c.PresentMode(); err != nil {
		return errors.Wrap(err, "swapchain.present_mode")
	}
	if c.SwapChain.ImageCount < 0 {
		return errors.New("swapchain.image_count must not be negative")
	}

	if c.Run.Frames < 0 {
		return errors.New("run.frames must not be negative")
	}
	if len(c.Run.ClearColor) != 4 {
		return errors.New("run.clear_color must have four components")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return errors.Newf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// PresentMode parses SwapChain.PresentMode.
func (c *Config) PresentMode() (driver.PresentMode, error) {
	return driver.ParsePresentMode(c.SwapChain.PresentMode)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("driver.name", cfg.Driver.Name)
	v.SetDefault("driver.adapter", cfg.Driver.Adapter)
	v.SetDefault("driver.validation", cfg.Driver.Validation)
	v.SetDefault("driver.soft_latency", cfg.Driver.SoftLatency)
	v.SetDefault("driver.soft_memory_budget", cfg.Driver.SoftMemoryBudget)

	v.SetDefault("window.width", cfg.Window.Width)
	v.SetDefault("window.height", cfg.Window.Height)
	v.SetDefault("window.title", cfg.Window.Title)
	v.SetDefault("window.resizable", cfg.Window.Resizable)

	v.SetDefault("swapchain.present_mode", cfg.SwapChain.PresentMode)
	v.SetDefault("swapchain.image_count", cfg.SwapChain.ImageCount)
	v.SetDefault("swapchain.acquire_timeout", cfg.SwapChain.AcquireTimeout)

	v.SetDefault("run.frames", cfg.Run.Frames)
	v.SetDefault("run.clear_color", cfg.Run.ClearColor)
	v.SetDefault("run.stats_every", cfg.Run.StatsEvery)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.debug", cfg.Logging.Debug)
}
