package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"pagebundle/internal/components/telemetry"
	"pagebundle/internal/pipeline"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "pagebundle",
	Short:         "pagebundle turns a web page into a bundle of metadata, clean content and images and sends it to a webhook.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

var (
	configPath *string
	verbose    *bool
)

func init() {
	configPath = rootCmd.PersistentFlags().String("config", pipeline.DefaultConfigFile, "Path to the json5 config file.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output.")
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig merges the config file, the .env file and the environment, in
// that order. A target url given as argument wins over all of them.
func loadConfig(args []string) (pipeline.Config, error) {
	config, err := pipeline.LoadConfig(*configPath)
	if err != nil {
		return config, err
	}
	err = godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("load .env: %w", err)
	}
	config.ApplyEnv(os.LookupEnv)
	if len(args) > 0 {
		config.TargetURL = args[0]
	}
	return config, nil
}
