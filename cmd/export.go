package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/pocketrec/internal/export"
	"github.com/audiolibrelab/pocketrec/internal/service"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Export a recording to another audio format",
	Long: fmt.Sprintf(`Transcode a saved recording with ffmpeg. The exported file is named
after the recording. Supported formats: %s.`, strings.Join(export.Formats(), ", ")),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		svc, err := service.NewFromConfig(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer svc.Close(context.Background())

		path, err := svc.ExportRecording(cmd.Context(), args[0], format, output)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "flac", "output format")
	exportCmd.Flags().StringP("output", "o", "", "output directory (default: exports/ next to the recording)")
	rootCmd.AddCommand(exportCmd)
}
