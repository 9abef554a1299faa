package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMergeConfigs_ProfileOverridesAndFallback(t *testing.T) {
	base := &Config{
		Recording: RecordingConfig{Quality: "high", PollIntervalMs: 1000},
		Capture: CaptureConfig{
			Backend:     "auto",
			Command:     "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
			SampleRate:  44100,
			Channels:    1,
		},
		Storage: StorageConfig{
			RecordingsDirectory: "~/Audio/Default",
			Backend:             "file",
			KVFile:              "~/.local/share/pocketrec/state.yaml",
		},
		Playback: PlaybackConfig{Player: "auto"},
		Server:   ServerConfig{Port: "8080"},
	}

	profile := &Config{
		Recording: RecordingConfig{Quality: "low"},
		Capture:   CaptureConfig{InputDevice: "alsa_input.usb-mic", SampleRate: 48000},
		Storage:   StorageConfig{RecordingsDirectory: "~/Audio/Studio"},
	}

	result := mergeConfigs(base, profile)

	if result.Recording.Quality != "low" {
		t.Errorf("Expected quality 'low', got %s", result.Recording.Quality)
	}
	if result.Recording.PollIntervalMs != 1000 {
		t.Errorf("Expected poll interval 1000 inherited, got %d", result.Recording.PollIntervalMs)
	}
	if result.Capture.InputDevice != "alsa_input.usb-mic" || result.Capture.SampleRate != 48000 {
		t.Errorf("Capture overrides not applied: %+v", result.Capture)
	}
	if result.Capture.InputFormat != "pulse" || result.Capture.Command != "ffmpeg" {
		t.Errorf("Capture fallback not applied: %+v", result.Capture)
	}
	if result.Storage.RecordingsDirectory != "~/Audio/Studio" {
		t.Errorf("Expected directory '~/Audio/Studio', got %s", result.Storage.RecordingsDirectory)
	}
	if result.Storage.Backend != "file" {
		t.Errorf("Expected backend 'file', got %s", result.Storage.Backend)
	}
	if result.Playback.Player != "auto" {
		t.Errorf("Expected player 'auto', got %s", result.Playback.Player)
	}

	if result.Inheritance == nil {
		t.Fatal("Inheritance tracking not initialized")
	}
	if result.Inheritance.Recording.Quality != "profile-specific" {
		t.Errorf("Expected quality to be profile-specific, got %s", result.Inheritance.Recording.Quality)
	}
	if result.Inheritance.Recording.PollInterval != "inherited" {
		t.Errorf("Expected poll interval to be inherited, got %s", result.Inheritance.Recording.PollInterval)
	}
	if result.Inheritance.Capture.InputDevice != "profile-specific" {
		t.Errorf("Expected input device to be profile-specific, got %s", result.Inheritance.Capture.InputDevice)
	}
	if result.Inheritance.Capture.InputFormat != "inherited" {
		t.Errorf("Expected input format to be inherited, got %s", result.Inheritance.Capture.InputFormat)
	}
	if result.Inheritance.Storage.Directory != "profile-specific" {
		t.Errorf("Expected directory to be profile-specific, got %s", result.Inheritance.Storage.Directory)
	}
	if result.Inheritance.Storage.Backend != "inherited" {
		t.Errorf("Expected storage backend to be inherited, got %s", result.Inheritance.Storage.Backend)
	}
}

func TestMergeConfigs_ProfileOnly(t *testing.T) {
	profile := &Config{
		Recording: RecordingConfig{Quality: "high"},
		Storage:   StorageConfig{RecordingsDirectory: "/tmp/recordings", Backend: "postgres", PostgresDSN: "postgres://localhost/pocketrec"},
	}

	result := mergeConfigs(nil, profile)

	if result.Storage.RecordingsDirectory != "/tmp/recordings" || result.Storage.Backend != "postgres" {
		t.Errorf("Storage config not preserved: %+v", result.Storage)
	}
	if result.Storage.PostgresDSN != "postgres://localhost/pocketrec" {
		t.Errorf("Expected DSN to be preserved, got %q", result.Storage.PostgresDSN)
	}
}

func TestMergeConfigs_MetricsFlag(t *testing.T) {
	disabled := false
	base := &Config{Server: ServerConfig{Port: "8080"}}

	result := mergeConfigs(base, &Config{})
	if !result.Server.MetricsEnabled() {
		t.Errorf("Expected metrics enabled when unset")
	}

	result = mergeConfigs(base, &Config{Server: ServerConfig{Metrics: &disabled}})
	if result.Server.MetricsEnabled() {
		t.Errorf("Expected metrics disabled by profile")
	}
	if result.Server.Port != "8080" {
		t.Errorf("Expected port inherited, got %s", result.Server.Port)
	}
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		ms       int
		expected time.Duration
	}{
		{0, time.Second},
		{-5, time.Second},
		{250, 250 * time.Millisecond},
		{1000, time.Second},
	}

	for _, test := range tests {
		got := RecordingConfig{PollIntervalMs: test.ms}.PollInterval()
		if got != test.expected {
			t.Errorf("PollInterval(%d) = %v, expected %v", test.ms, got, test.expected)
		}
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/Audio/pocketrec", filepath.Join(homeDir, "Audio", "pocketrec")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", "~"}, // Should not expand bare tilde
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestLoadWithProfile_InheritsFromDefaultProfile(t *testing.T) {
	configContent := `
active_config: studio
configs:
    default:
        recording:
            quality: high
            poll_interval_ms: 500
        storage:
            recordings_directory: /default/recordings
            kv_file: /default/state.yaml
    studio:
        recording:
            quality: low
        capture:
            input_format: alsa
            input_device: hw:CARD=USB,DEV=0
`
	configFile := createTempConfig(t, configContent)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Recording.Quality != "low" {
		t.Errorf("Expected quality 'low' from active profile, got %s", cfg.Recording.Quality)
	}
	if cfg.Recording.PollIntervalMs != 500 {
		t.Errorf("Expected poll interval 500 from default profile, got %d", cfg.Recording.PollIntervalMs)
	}
	if cfg.Storage.RecordingsDirectory != "/default/recordings" {
		t.Errorf("Expected directory from default profile, got %s", cfg.Storage.RecordingsDirectory)
	}
	if cfg.Capture.SampleRate != 44100 || cfg.Capture.Command != "ffmpeg" {
		t.Errorf("Expected built-in capture defaults, got %+v", cfg.Capture)
	}
	if cfg.Capture.InputFormat != "alsa" {
		t.Errorf("Expected input format 'alsa', got %s", cfg.Capture.InputFormat)
	}
}

func TestLoadWithProfile_FlagOverridesActiveConfig(t *testing.T) {
	configContent := `
active_config: studio
configs:
    default:
        storage:
            recordings_directory: /default/recordings
    studio:
        recording:
            quality: low
    field:
        playback:
            player: mpv
`
	configFile := createTempConfig(t, configContent)

	cfg, err := LoadWithProfile(configFile, "field")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Recording.Quality != "high" {
		t.Errorf("Expected built-in quality 'high', got %s", cfg.Recording.Quality)
	}
	if cfg.Playback.Player != "mpv" {
		t.Errorf("Expected player 'mpv', got %s", cfg.Playback.Player)
	}
	if cfg.Inheritance.Playback.Player != "profile-specific" {
		t.Errorf("Expected player to be profile-specific, got %s", cfg.Inheritance.Playback.Player)
	}

	if _, err := LoadWithProfile(configFile, "missing"); err == nil {
		t.Errorf("Expected error for unknown profile")
	}
}

func TestLoadWithProfile_NoConfigFile(t *testing.T) {
	if _, err := LoadWithProfile("", ""); err == nil {
		t.Errorf("Expected error when no config file is given")
	}
}

func TestGlobalsRecordingsDirectory(t *testing.T) {
	configContent := `
active_config: test
globals:
    storage:
        recordings_directory: /global/recordings
configs:
    test:
        storage:
            recordings_directory: /profile/recordings
            kv_file: /profile/state.yaml
`
	configFile := createTempConfig(t, configContent)

	cfg, err := LoadWithProfile(configFile, "test")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	expectedDir := "/global/recordings"
	if cfg.Storage.RecordingsDirectory != expectedDir {
		t.Errorf("Expected directory '%s' from globals, got '%s'", expectedDir, cfg.Storage.RecordingsDirectory)
	}
	if cfg.Storage.KVFile != "/profile/state.yaml" {
		t.Errorf("Expected kv file from profile, got '%s'", cfg.Storage.KVFile)
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configContent := `
active_config: default
configs:
    default:
        recording:
            quality: high
    field:
        recording:
            quality: low
`
	configFile := createTempConfig(t, configContent)

	if err := UpdateActiveConfig(configFile, "field"); err != nil {
		t.Fatalf("UpdateActiveConfig failed: %v", err)
	}

	names, active, err := ProfileNames(configFile)
	if err != nil {
		t.Fatalf("ProfileNames failed: %v", err)
	}
	if active != "field" {
		t.Errorf("Expected active config 'field', got %s", active)
	}
	if len(names) != 2 || names[0] != "default" || names[1] != "field" {
		t.Errorf("Unexpected profile names: %v", names)
	}

	if err := UpdateActiveConfig(configFile, "nope"); err == nil {
		t.Errorf("Expected error when activating an unknown profile")
	}
}
