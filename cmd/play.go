package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/pocketrec/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [id]",
	Short: "Play a recording",
	Long: `Play a saved recording through the configured audio player and wait
until it finishes. Without an id the most recent recording is played.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := service.NewFromConfig(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer svc.Close(context.Background())

		id := ""
		if len(args) == 1 {
			id = args[0]
		} else {
			recordings, err := svc.ListRecordings(ctx)
			if err != nil {
				return err
			}
			if len(recordings) == 0 {
				return fmt.Errorf("no recordings to play")
			}
			id = recordings[len(recordings)-1].ID
		}

		st, err := svc.PlayRecording(ctx, id)
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		fmt.Printf("Playing %s\n", st.URI)

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return svc.StopPlayback(context.Background())
			case <-ticker.C:
				if svc.GetPlaybackStatus().State == service.PlaybackNone {
					return nil
				}
			}
		}
	},
}
