package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pocketrec/internal/audio"
	"github.com/audiolibrelab/pocketrec/internal/config"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration",
	Long:  `Display the resolved configuration with inheritance indicators. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cfg.Inheritance
		if in == nil {
			in = &config.InheritanceInfo{}
		}

		fmt.Printf("=== RESOLVED CONFIGURATION ===\n")
		if cfgFile == "" {
			fmt.Printf("(no config file, built-in defaults)\n")
		}

		fmt.Printf("\n[Recording]\n")
		fmt.Printf("quality: %s %s\n", cfg.Recording.Quality, getInheritanceIndicator(in.Recording.Quality))
		fmt.Printf("poll_interval: %s %s\n", cfg.Recording.PollInterval(), getInheritanceIndicator(in.Recording.PollInterval))

		fmt.Printf("\n[Capture]\n")
		fmt.Printf("backend: %s %s\n", cfg.Capture.Backend, getInheritanceIndicator(in.Capture.Backend))
		fmt.Printf("input_format: %s %s\n", cfg.Capture.InputFormat, getInheritanceIndicator(in.Capture.InputFormat))
		fmt.Printf("input_device: %s %s\n", cfg.Capture.InputDevice, getInheritanceIndicator(in.Capture.InputDevice))
		fmt.Printf("sample_rate: %d %s\n", cfg.Capture.SampleRate, getInheritanceIndicator(in.Capture.SampleRate))
		fmt.Printf("channels: %d\n", cfg.Capture.Channels)
		fmt.Printf("available backends: %v\n", audio.GetAvailableBackends())

		fmt.Printf("\n[Storage]\n")
		fmt.Printf("recordings_directory: %s %s\n", cfg.Storage.RecordingsDirectory, getInheritanceIndicator(in.Storage.Directory))
		fmt.Printf("backend: %s %s\n", cfg.Storage.Backend, getInheritanceIndicator(in.Storage.Backend))
		if cfg.Storage.Backend == "postgres" {
			fmt.Printf("postgres_dsn: (set)\n")
		} else {
			fmt.Printf("kv_file: %s\n", cfg.Storage.KVFile)
		}

		fmt.Printf("\n[Playback]\n")
		fmt.Printf("player: %s %s\n", cfg.Playback.Player, getInheritanceIndicator(in.Playback.Player))

		fmt.Printf("\n[Server]\n")
		fmt.Printf("port: %s\n", cfg.Server.Port)
		fmt.Printf("metrics: %t\n", cfg.Server.MetricsEnabled())

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "":
		return "[built-in]"
	default:
		return "[unknown]"
	}
}
