package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/pocketrec/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the capture sources offered by the sound server for the configured input format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = cfg.Capture.InputFormat
		}
		return listAvailableSources(format, cfg.Capture.InputDevice)
	},
}

// listAvailableSources prints the sources for one input format and marks the configured device
func listAvailableSources(format, configured string) error {
	fmt.Printf("Audio Sources (%s, %s)\n", format, runtime.GOOS)
	fmt.Printf("═══════════════════════════════════════\n\n")

	lister := audio.NewSourceLister(format)
	sources, err := lister.ListSources()
	if err != nil {
		return fmt.Errorf("failed to get %s sources: %w", format, err)
	}

	fmt.Printf("%d found:\n", len(sources))
	for i, source := range sources {
		marker := ""
		if source == configured {
			marker = "  (configured)"
		}
		fmt.Printf("  %d. %s%s\n", i+1, source, marker)
	}

	fmt.Printf("\nUsage:\n")
	fmt.Printf("  • Set capture.input_format: %s\n", format)
	fmt.Printf("  • Set capture.input_device to one of the names above\n\n")

	if err := lister.ValidateSource(configured); err != nil {
		fmt.Printf("Configured device %q: %v\n", configured, err)
	}
	return nil
}

func init() {
	sourcesCmd.Flags().String("format", "", "input format to list (pulse, pipewire, jack, alsa); defaults to the config")
}
