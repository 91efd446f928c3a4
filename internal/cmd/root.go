package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trendops/evreport/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "evreport",
	Short: "Evidence-grounded EV market report generator",
	Long: `Evreport turns a declarative research request into a finished market
report. It plans a stage graph from the request, runs research, financial,
and chart collaborators with bounded parallelism, checks the result against
citation and consistency thresholds, and exports an HTML report with its
evidence map.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/evreport/config.yaml)")
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
		viper.AddConfigPath("$HOME/.config/evreport")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("EVREPORT")
	// Replace dots with underscores for nested keys in env vars
	// e.g., EVREPORT_SCHEDULER_PARALLELISM for scheduler.parallelism
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
