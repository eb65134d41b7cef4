// Package cmd defines the ralphloop command-line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ralphloop/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "ralphloop",
	Short: "Bounded iterative agent loop",
	Long: `Ralphloop drives a coding agent toward a goal by iterating: plan,
execute, evaluate, repeat. The loop is bounded by an iteration budget
and completion is confirmed only by an exact promise marker in the
agent's final response.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/ralphloop/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/ralphloop")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RALPHLOOP")
	// Replace dots with underscores for nested keys in env vars
	// e.g., RALPHLOOP_RUN_MAX_ITERATIONS for run.max_iterations
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
