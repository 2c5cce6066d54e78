package main

import (
	"fmt"
	"os"

	"github.com/databike/replay/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var configDir string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           ProgramName,
	Short:         "Replay recorded bicycle telemetry",
	Version:       CurrentVersion,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := setupRuntime(); err != nil {
			return err
		}
		bindFlags(cmd, viper.GetViper())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".",
		"directory containing "+config.FileName)
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("bike-defs", "", "directory of bike definition files")

	mustBind("logLevel", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBind("bikeDefsDir", rootCmd.PersistentFlags().Lookup("bike-defs"))

	rootCmd.AddCommand(newPlayCmd())
	rootCmd.AddCommand(newTrailCmd())
	rootCmd.AddCommand(newInspectCmd())
}

func mustBind(key string, f *pflag.Flag) {
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Errorf("binding flag %s: %w", f.Name, err))
	}
}

// bindFlags applies config values to command flags that were not set on
// the command line, so commands can read their flags only.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || f.Changed || !v.IsSet(key) {
			return
		}
		if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", v.Get(key))); err != nil {
			fmt.Fprintf(os.Stderr, "Could not set flag value for %s: %v\n", f.Name, err)
		}
	})
}

// flagKeys maps command flags to the config keys they override.
var flagKeys = map[string]string{
	"speed":  "playback.speed",
	"store":  "storage.type",
	"influx": "influx.enabled",
	"sps":    "trail.samplesPerSecond",
}
