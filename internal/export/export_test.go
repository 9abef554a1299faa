package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/audiolibrelab/pocketrec/internal/config"
)

// fakeFFmpeg copies its -i argument to its last argument
const fakeFFmpeg = `#!/usr/bin/env bash
in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
done
out="${@: -1}"
cp "$in" "$out"
`

func writeScript(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg.sh")
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording-1.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExportWritesNamedFile(t *testing.T) {
	e := New(config.CaptureConfig{Command: writeScript(t, fakeFFmpeg), SampleRate: 44100})
	outDir := filepath.Join(t.TempDir(), "exports")

	out, err := e.Export(context.Background(), writeInput(t), outDir, "Recording 3: kitchen!", "flac")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if out != filepath.Join(outDir, "Recording_3_kitchen.flac") {
		t.Errorf("unexpected output path %s", out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected exported file: %v", err)
	}
}

func TestExportFallsBackToInputName(t *testing.T) {
	e := New(config.CaptureConfig{Command: writeScript(t, fakeFFmpeg)})
	outDir := t.TempDir()

	out, err := e.Export(context.Background(), writeInput(t), outDir, "!!!", "mp3")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if filepath.Base(out) != "recording-1.mp3" {
		t.Errorf("unexpected output name %s", filepath.Base(out))
	}
}

func TestExportErrors(t *testing.T) {
	failing := writeScript(t, "#!/usr/bin/env bash\necho 'Unknown encoder' 1>&2\nexit 1\n")

	tests := []struct {
		name    string
		command string
		input   string
		format  string
		errMsg  string
	}{
		{"unsupported format", failing, writeInput(t), "aiff", "unsupported export format"},
		{"missing input", failing, filepath.Join(t.TempDir(), "gone.wav"), "flac", "input file not found"},
		{"ffmpeg failure", failing, writeInput(t), "flac", "Unknown encoder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(config.CaptureConfig{Command: tt.command})
			_, err := e.Export(context.Background(), tt.input, t.TempDir(), "take", tt.format)
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"Recording 1":        "Recording_1",
		"  idea: chorus  ":   "idea_chorus",
		"take-2_final":       "take-2_final",
		"Ünïcode & symbols!": "ncode__symbols",
	}
	for in, want := range tests {
		if got := cleanFileName(in); got != want {
			t.Errorf("cleanFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
