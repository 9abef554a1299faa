package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/audiolibrelab/pocketrec/internal/service"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved recordings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		svc, err := service.NewFromConfig(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer svc.Close(context.Background())

		recordings, err := svc.ListRecordings(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list recordings: %w", err)
		}
		if msg := svc.GetLastError(); msg != "" {
			fmt.Fprintln(os.Stderr, "warning:", msg)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recordings)
		}

		if len(recordings) == 0 {
			fmt.Println("No recordings yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDURATION\tSIZE\tFILE")
		for _, rec := range recordings {
			size := rec.SizeHuman
			if rec.Missing {
				size = "missing"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.Name, rec.Duration, size, rec.Path)
		}
		return w.Flush()
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename [id] [new name]",
	Short: "Rename a recording",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		name := strings.Join(args[1:], " ")

		svc, err := service.NewFromConfig(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer svc.Close(context.Background())

		if _, err := svc.GetRecording(cmd.Context(), id); err != nil {
			return err
		}
		if err := svc.RenameRecording(cmd.Context(), id, name); err != nil {
			return fmt.Errorf("failed to rename recording: %w", err)
		}
		fmt.Printf("Renamed %s to %q\n", id, name)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete [id]",
	Aliases: []string{"rm"},
	Short:   "Delete a recording and its file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		svc, err := service.NewFromConfig(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer svc.Close(context.Background())

		if err := svc.DeleteRecording(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to delete recording: %w", err)
		}
		fmt.Printf("Deleted %s\n", id)
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("json", false, "print recordings as JSON")
}
