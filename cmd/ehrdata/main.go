package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/synaptica-ai/ehrdata/pkg/common/config"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
)

func main() {
	logger.Init()
	logger.SetOutput(os.Stderr)

	rootCmd := &cobra.Command{
		Use:          "ehrdata",
		Short:        "Multimodal EHR preprocessing and evaluation",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(preprocessCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(batchesCmd())
	rootCmd.AddCommand(evaluateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the window flags shared by the
// dataset commands.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("data-path") {
		cfg.DataPath, _ = flags.GetString("data-path")
	}
	if flags.Changed("age-start") {
		cfg.AgeStart, _ = flags.GetInt("age-start")
	}
	if flags.Changed("age-stop") {
		cfg.AgeStop, _ = flags.GetInt("age-stop")
	}
	if flags.Changed("months") {
		cfg.AgeInMonths, _ = flags.GetBool("months")
	}
	if flags.Changed("labels") {
		cfg.Labels, _ = flags.GetStringSlice("labels")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func addDatasetFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-path", "", "Dataset root holding cleaned/ (default DATA_PATH)")
	cmd.Flags().Int("age-start", 0, "First age of the window")
	cmd.Flags().Int("age-stop", 0, "Age the window stops before")
	cmd.Flags().Bool("months", false, "Bucket events by age in months")
	cmd.Flags().StringSlice("labels", nil, "Condition labels (default LABELS)")
}
