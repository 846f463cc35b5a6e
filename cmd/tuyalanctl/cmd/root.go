package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	debug   bool
	logger  = logrus.StandardLogger()
)

var rootCmd = &cobra.Command{
	Use:   "tuyalanctl",
	Short: "Operate Tuya LAN-protocol devices: discover, connect, control",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

// Execute adds all child commands and runs the root command. Exit codes:
// 0 success, 1 protocol/connection error, 2 usage error — the CLI is the
// only layer in this module that calls os.Exit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if isUsageError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func isUsageError(err error) bool {
	// cobra reports flag-parsing/usage errors without a distinguishing
	// type; string probing its own message is how callers are expected
	// to tell them apart from RunE errors.
	return strings.Contains(err.Error(), "unknown flag") ||
		strings.Contains(err.Error(), "unknown command") ||
		strings.Contains(err.Error(), "required flag")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadConfig layers configuration the way this corpus's CLIs do it:
// flags override viper-loaded values from --config's YAML file and from
// TUYALAN_*-prefixed environment variables.
func loadConfig(cmd *cobra.Command) error {
	viper.SetEnvPrefix("tuyalan")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("tuyalanctl: binding flags: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("tuyalanctl: reading config file: %w", err)
		}
	}

	if viper.GetBool("debug") {
		logger.SetLevel(logrus.DebugLevel)
	}
	return nil
}
