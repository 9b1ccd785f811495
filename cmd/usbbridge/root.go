package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Station-Manager/usbbridge/logging"
)

var (
	cfgFile string
	v       = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usbbridge",
	Short: "Bridge a USB CDC-ACM board to a web page",
	Long: `usbbridge watches for a Raspberry Pi Pico (or any board of the configured
USB vendor), opens its CDC-ACM serial port at 115200 8N1 and relays bytes
between the board and a page served over HTTP.

Configuration is read from a YAML file (--config), USBBRIDGE_* environment
variables and flags, in increasing order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return readConfig(v, cfgFile)
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	setDefaults(v)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console, json")
	rootCmd.PersistentFlags().String("log-output", "stderr", "log output: stderr, stdout or a file path")

	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))
}

// setup loads the configuration and builds the logger shared by every
// command.
func setup() (*appConfig, zerolog.Logger, func() error, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, logger, closer, nil
}
