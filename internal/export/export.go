// Package export transcodes saved recordings into shareable formats with ffmpeg.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/audiolibrelab/pocketrec/internal/config"
)

// codecs maps an output format to its ffmpeg audio codec
var codecs = map[string]string{
	"flac": "flac",
	"mp3":  "libmp3lame",
	"ogg":  "libvorbis",
	"wav":  "pcm_s16le",
}

// Formats returns the supported output formats
func Formats() []string {
	return []string{"flac", "mp3", "ogg", "wav"}
}

type Exporter struct {
	command    string
	sampleRate int
}

func New(cfg config.CaptureConfig) *Exporter {
	command := cfg.Command
	if command == "" {
		command = "ffmpeg"
	}
	return &Exporter{command: command, sampleRate: cfg.SampleRate}
}

// Export writes inputFile to outputDir as <name>.<format> and returns the
// path of the new file. An existing file of that name is overwritten.
func (e *Exporter) Export(ctx context.Context, inputFile, outputDir, name, format string) (string, error) {
	codec, ok := codecs[format]
	if !ok {
		return "", fmt.Errorf("unsupported export format: %s", format)
	}

	if _, err := os.Stat(inputFile); err != nil {
		return "", fmt.Errorf("input file not found: %s", inputFile)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	cleanName := cleanFileName(name)
	if cleanName == "" {
		cleanName = strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
	}
	outputFile := filepath.Join(outputDir, cleanName+"."+format)

	args := []string{
		"-nostdin",
		"-i", inputFile,
		"-c:a", codec,
	}
	if e.sampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", e.sampleRate))
	}
	args = append(args, "-y", outputFile) // Overwrite output file

	cmd := exec.CommandContext(ctx, e.command, args...)
	slog.Debug("Running FFmpeg for export", "command", strings.Join(cmd.Args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("FFmpeg export failed: %w\nOutput: %s", err, string(output))
	}

	// Verify output file was created
	if _, err := os.Stat(outputFile); err != nil {
		return "", fmt.Errorf("output file not created: %s", outputFile)
	}

	slog.Info("Exported recording", "file", outputFile, "format", format)
	return outputFile, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)

// cleanFileName removes special characters and replaces spaces with underscores
func cleanFileName(name string) string {
	cleaned := unsafeChars.ReplaceAllString(name, "")
	return strings.ReplaceAll(strings.TrimSpace(cleaned), " ", "_")
}
