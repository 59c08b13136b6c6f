package main

import (
	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/internal/config"
	"github.com/ironsmile/vkframe/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// v holds the settings of this invocation. Flags are bound to it so they
	// override the config file and the environment.
	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "vkframe",
	Short: "Frame pacing and GPU resource lifetimes on Vulkan",
	Long: `vkframe drives a swapchain with two frames in flight, keeps GPU
resources alive until the frames using them retire and recreates the
swapchain when the window changes.

It runs on Vulkan through a GLFW window or on a software GPU which
simulates an asynchronous queue.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vkframe/config.yaml)")
	flags.String("driver", "vulkan", "GPU driver, vulkan or soft")
	flags.Int("adapter", -1, "adapter index, a negative value picks the most suitable one")
	flags.Bool("validation", false, "enable Vulkan validation layers")
	flags.String("log-level", "info", "log level")
	flags.String("log-file", "", "append log messages to this file")
	flags.Bool("debug", false, "log API misuse with stack traces")

	v.BindPFlag("driver.name", flags.Lookup("driver"))
	v.BindPFlag("driver.adapter", flags.Lookup("adapter"))
	v.BindPFlag("driver.validation", flags.Lookup("validation"))
	v.BindPFlag("logging.level", flags.Lookup("log-level"))
	v.BindPFlag("logging.file", flags.Lookup("log-file"))
	v.BindPFlag("logging.debug", flags.Lookup("debug"))
}

// bindFlags binds the named flags of cmd to configuration keys. Subcommands
// bind when they run since several of them share keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return errors.Wrapf(err, "binding --%s", name)
		}
	}
	return nil
}

// loadConfig reads the configuration and sets up logging according to it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return nil, err
	}

	err = logging.Init(cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Console)
	if err != nil {
		return nil, errors.Wrap(err, "initializing logging")
	}
	return cfg, nil
}
