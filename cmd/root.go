package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/audiolibrelab/pocketrec/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "pocketrec",
	Short: "Voice memo recorder with a persistent recording catalog",
	Long: `PocketRec records audio from a single input, shows a live level
waveform while recording, and keeps every finished take in a catalog
where it can be listed, renamed, played back or deleted.

Recording can be driven from the terminal with 'pocketrec record' or
remotely through the web server started by 'pocketrec serve'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		var err error
		cfg, err = loadConfig()
		return err
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pocketrec.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads the selected profile. Without --config, a missing default
// file falls back to the built-in configuration.
func loadConfig() (*config.Config, error) {
	explicit := cfgFile != ""
	if !explicit {
		cfgFile = defaultConfigPath()
	}

	if !explicit {
		if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
			if profile != "" {
				return nil, fmt.Errorf("profile %q requested but %s does not exist", profile, cfgFile)
			}
			slog.Debug("No config file found, using built-in defaults", "path", cfgFile)
			cfgFile = ""
			return config.Default(), nil
		}
	}

	loaded, err := config.LoadWithProfile(cfgFile, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return loaded, nil
}

func defaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/pocketrec.yaml")
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Level 2 forwards ffmpeg's own diagnostics
	if level >= 2 {
		os.Setenv("FFMPEG_LOGLEVEL", "info")
	}
}
