// Package cmd assembles the command line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantem/dectris-go/cmd/bench"
	"github.com/quantem/dectris-go/cmd/cat"
	"github.com/quantem/dectris-go/cmd/inspect"
	"github.com/quantem/dectris-go/cmd/repeat"
	"github.com/quantem/dectris-go/cmd/simulate"
	"github.com/quantem/dectris-go/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dectris-go",
		Short: "Dectris detector benchmark and stream tooling",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		bench.Command(settings),
		cat.Command(settings),
		inspect.Command(settings),
		repeat.Command(settings),
		simulate.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Let command-line arguments take precedence over the config file.
		return viper.BindPFlags(cmd.Flags())
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Detector.APIHost, "api-host", viper.GetString("detector.apihost"), "SIMPLON API host")
	rootCmd.PersistentFlags().IntVar(&settings.Detector.APIPort, "api-port", viper.GetInt("detector.apiport"), "SIMPLON API port")
	rootCmd.PersistentFlags().StringVar(&settings.Detector.DataHost, "data-host", viper.GetString("detector.datahost"), "Data stream host")
	rootCmd.PersistentFlags().IntVar(&settings.Detector.DataPort, "data-port", viper.GetInt("detector.dataport"), "Data stream port")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		cobra.CheckErr(err)
	}
}
