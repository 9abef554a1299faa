package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// SourceLister enumerates the capture sources known to the sound server
type SourceLister struct {
	inputFormat string

	// run executes a command and returns its stdout; replaced in tests
	run func(name string, args ...string) ([]byte, error)
}

// NewSourceLister creates a lister for the given ffmpeg input format
// ("pulse", "pipewire", "jack" or "alsa").
func NewSourceLister(inputFormat string) *SourceLister {
	return &SourceLister{
		inputFormat: inputFormat,
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
}

// ListSources returns all capture sources currently available
func (l *SourceLister) ListSources() ([]string, error) {
	name, args := l.listCommand()
	output, err := l.run(name, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s sources: %w", l.inputFormat, err)
	}
	return parseSourceList(l.inputFormat, string(output)), nil
}

// ValidateSource checks that a source exists and is not ambiguous.
// "default" and the empty string always validate.
func (l *SourceLister) ValidateSource(source string) error {
	if source == "" || source == "default" {
		return nil
	}

	sources, err := l.ListSources()
	if err != nil {
		return err
	}
	return validateSourceInList(source, sources)
}

func (l *SourceLister) listCommand() (string, []string) {
	switch l.inputFormat {
	case "pipewire", "jack":
		return "pw-link", []string{"-o"}
	case "alsa":
		return "arecord", []string{"-L"}
	default:
		return "pactl", []string{"list", "short", "sources"}
	}
}

// parseSourceList extracts source names from the listing tool's output
func parseSourceList(inputFormat, output string) []string {
	var sources []string
	for _, line := range strings.Split(output, "\n") {
		switch inputFormat {
		case "pipewire", "jack":
			line = strings.TrimSpace(line)
		case "alsa":
			// descriptions are indented under each device name
			if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
				continue
			}
			line = strings.TrimSpace(line)
		default:
			// pactl: index<TAB>name<TAB>driver<TAB>sample-spec<TAB>state
			fields := strings.Split(line, "\t")
			if len(fields) < 2 {
				continue
			}
			line = strings.TrimSpace(fields[1])
		}
		if line != "" {
			sources = append(sources, line)
		}
	}
	return sources
}

func validateSourceInList(source string, sources []string) error {
	duplicates := findSourceDuplicatesInList(source, sources)
	if len(duplicates) == 0 {
		return fmt.Errorf("source not found: %s", source)
	}
	if len(duplicates) > 1 {
		slog.Debug("Ambiguous capture source", "source", source, "matches", len(duplicates))
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", source, duplicates)
	}
	return nil
}

// findSourceDuplicatesInList finds all sources with exactly the same name
func findSourceDuplicatesInList(source string, sources []string) []string {
	var duplicates []string
	for _, s := range sources {
		if s == source {
			duplicates = append(duplicates, s)
		}
	}
	return duplicates
}
