package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sergev/pulsesensor/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	boardName  string
	verbose    bool

	conf *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pulsesensor",
	Short: "A CLI program which detects heartbeats from pulse sensors",
	Long: `The pulsesensor tool samples one or more optical pulse sensors every 2 ms,
detects heartbeats and reports beats per minute and inter-beat intervals.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		// Initialize configuration
		var err error
		conf, err = config.Initialize(configPath)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}
		if boardName != "" {
			if err := conf.Select(boardName); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to select board: %w", err))
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default ~/.pulsesensor)")
	rootCmd.PersistentFlags().StringVarP(&boardName, "board", "b", "", "board to use instead of the configured default")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
