package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/pocketrec/internal/audio"
	"github.com/audiolibrelab/pocketrec/internal/service"
	"github.com/audiolibrelab/pocketrec/internal/session"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new voice memo",
	Long: `Record audio from the configured input until Ctrl+C is pressed.
Type 'p' and Enter to pause or resume. When recording stops the take is
moved into the recordings directory and added to the catalog.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		skipCheck, _ := cmd.Flags().GetBool("skip-source-check")

		if !skipCheck {
			lister := audio.NewSourceLister(cfg.Capture.InputFormat)
			if err := lister.ValidateSource(cfg.Capture.InputDevice); err != nil {
				slog.Warn("Input source check failed", "source", cfg.Capture.InputDevice, "error", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := service.NewFromConfig(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer svc.Close(context.Background())

		if err := svc.StartRecording(ctx); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		slog.Info("Recording... type 'p' + Enter to pause or resume, Ctrl+C to stop")

		var deadline <-chan time.Time
		if duration > 0 {
			deadline = time.After(duration)
		}

		input := readLines(os.Stdin)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-deadline:
				break loop
			case line, ok := <-input:
				if !ok {
					input = nil
					continue
				}
				if strings.TrimSpace(line) == "p" {
					togglePause(ctx, svc)
				}
			case <-ticker.C:
				snap := svc.GetRecordingStatus()
				fmt.Fprintf(os.Stderr, "\r%s %s %s", snap.State, snap.Elapsed, levelBar(snap.Waveform))
			}
		}
		fmt.Fprintln(os.Stderr)

		// The signal context is done; stopping must still finish
		res, err := svc.StopRecording(context.Background())
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		if res.Record != nil {
			fmt.Printf("Saved %q (%s) as %s\n", res.Record.Name, res.Record.Duration, res.Record.ID)
		}
		return nil
	},
}

func togglePause(ctx context.Context, svc service.Service) {
	var err error
	switch svc.GetRecordingStatus().State {
	case session.StateRecording:
		err = svc.PauseRecording(ctx)
	case session.StatePaused:
		err = svc.ResumeRecording(ctx)
	}
	if err != nil {
		slog.Error("Pause toggle failed", "error", err)
	}
}

// readLines forwards lines from f until it is closed
func readLines(f *os.File) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// levelBar renders the most recent waveform sample as a bar
func levelBar(waveform []float64) string {
	const width = 30
	if len(waveform) == 0 {
		return strings.Repeat(" ", width)
	}
	n := int(waveform[len(waveform)-1] * width)
	return strings.Repeat("#", n) + strings.Repeat(" ", width-n)
}

func init() {
	recordCmd.Flags().Duration("duration", 0, "stop automatically after this long (e.g. 30s)")
	recordCmd.Flags().Bool("skip-source-check", false, "do not check that the input device exists")
}
