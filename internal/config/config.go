package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type GlobalsConfig struct {
	Storage GlobalStorageConfig `mapstructure:"storage" yaml:"storage"`
}

type GlobalStorageConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Playback  PlaybackConfig  `mapstructure:"playback" yaml:"playback"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Recording struct {
		Quality      string // "inherited" or "profile-specific"
		PollInterval string
	}
	Capture struct {
		Backend     string
		InputFormat string
		InputDevice string
		SampleRate  string
	}
	Storage struct {
		Directory string
		Backend   string
	}
	Playback struct {
		Player string
	}
}

type RecordingConfig struct {
	Quality        string `mapstructure:"quality" yaml:"quality"` // "low", "high"
	PollIntervalMs int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

type CaptureConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // "ffmpeg", "auto"
	Command       string `mapstructure:"command" yaml:"command"`
	InputFormat   string `mapstructure:"input_format" yaml:"input_format"` // "pulse", "pipewire", "jack", "alsa"
	InputDevice   string `mapstructure:"input_device" yaml:"input_device"`
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels      int    `mapstructure:"channels" yaml:"channels"`
	TempDirectory string `mapstructure:"temp_directory" yaml:"temp_directory"`
}

type StorageConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
	Backend             string `mapstructure:"backend" yaml:"backend"` // "file", "postgres"
	KVFile              string `mapstructure:"kv_file" yaml:"kv_file"`
	PostgresDSN         string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

type PlaybackConfig struct {
	Player string `mapstructure:"player" yaml:"player"` // "auto", "vlc", "mpv", "ffplay", "aplay"
}

type ServerConfig struct {
	Port    string `mapstructure:"port" yaml:"port"`
	Metrics *bool  `mapstructure:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// MetricsEnabled reports whether /metrics is served; unset means enabled
func (s ServerConfig) MetricsEnabled() bool {
	return s.Metrics == nil || *s.Metrics
}

// PollInterval is the elapsed-time poll period while recording
func (r RecordingConfig) PollInterval() time.Duration {
	if r.PollIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

// Default returns the built-in configuration used when a profile leaves a field empty
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Recording: RecordingConfig{
			Quality:        "high",
			PollIntervalMs: 1000,
		},
		Capture: CaptureConfig{
			Backend:     "auto",
			Command:     "ffmpeg",
			InputFormat: "pulse",
			InputDevice: "default",
			SampleRate:  44100,
			Channels:    1,
		},
		Storage: StorageConfig{
			RecordingsDirectory: filepath.Join(home, "Audio", "pocketrec"),
			Backend:             "file",
			KVFile:              filepath.Join(home, ".local", "share", "pocketrec", "state.yaml"),
		},
		Playback: PlaybackConfig{
			Player: "auto",
		},
		Server: ServerConfig{
			Port: "8080",
		},
	}
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// The built-in defaults sit under the file's default profile
	base := Default()
	if defaultProfile, exists := rootConfig.Configs["default"]; exists && configName != "default" {
		base = mergeConfigs(base, defaultProfile)
	}
	selectedConfig := mergeConfigs(base, selectedProfile)

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Storage.RecordingsDirectory != "" {
		selectedConfig.Storage.RecordingsDirectory = rootConfig.Globals.Storage.RecordingsDirectory
	}

	selectedConfig.Storage.RecordingsDirectory = expandPath(selectedConfig.Storage.RecordingsDirectory)
	selectedConfig.Storage.KVFile = expandPath(selectedConfig.Storage.KVFile)
	selectedConfig.Capture.TempDirectory = expandPath(selectedConfig.Capture.TempDirectory)

	if err := validateConfig(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// mergeConfigs overlays the non-empty fields of profile onto base and
// records, per field, whether the value came from the profile or was inherited.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	if base != nil {
		result.Recording = base.Recording
		result.Capture = base.Capture
		result.Storage = base.Storage
		result.Playback = base.Playback
		result.Server = base.Server
	}

	inh := result.Inheritance
	inh.Recording.Quality = "inherited"
	inh.Recording.PollInterval = "inherited"
	inh.Capture.Backend = "inherited"
	inh.Capture.InputFormat = "inherited"
	inh.Capture.InputDevice = "inherited"
	inh.Capture.SampleRate = "inherited"
	inh.Storage.Directory = "inherited"
	inh.Storage.Backend = "inherited"
	inh.Playback.Player = "inherited"

	if profile == nil {
		return result
	}

	if profile.Recording.Quality != "" {
		result.Recording.Quality = profile.Recording.Quality
		inh.Recording.Quality = "profile-specific"
	}
	if profile.Recording.PollIntervalMs != 0 {
		result.Recording.PollIntervalMs = profile.Recording.PollIntervalMs
		inh.Recording.PollInterval = "profile-specific"
	}

	if profile.Capture.Backend != "" {
		result.Capture.Backend = profile.Capture.Backend
		inh.Capture.Backend = "profile-specific"
	}
	if profile.Capture.Command != "" {
		result.Capture.Command = profile.Capture.Command
	}
	if profile.Capture.InputFormat != "" {
		result.Capture.InputFormat = profile.Capture.InputFormat
		inh.Capture.InputFormat = "profile-specific"
	}
	if profile.Capture.InputDevice != "" {
		result.Capture.InputDevice = profile.Capture.InputDevice
		inh.Capture.InputDevice = "profile-specific"
	}
	if profile.Capture.SampleRate != 0 {
		result.Capture.SampleRate = profile.Capture.SampleRate
		inh.Capture.SampleRate = "profile-specific"
	}
	if profile.Capture.Channels != 0 {
		result.Capture.Channels = profile.Capture.Channels
	}
	if profile.Capture.TempDirectory != "" {
		result.Capture.TempDirectory = profile.Capture.TempDirectory
	}

	if profile.Storage.RecordingsDirectory != "" {
		result.Storage.RecordingsDirectory = profile.Storage.RecordingsDirectory
		inh.Storage.Directory = "profile-specific"
	}
	if profile.Storage.Backend != "" {
		result.Storage.Backend = profile.Storage.Backend
		inh.Storage.Backend = "profile-specific"
	}
	if profile.Storage.KVFile != "" {
		result.Storage.KVFile = profile.Storage.KVFile
	}
	if profile.Storage.PostgresDSN != "" {
		result.Storage.PostgresDSN = profile.Storage.PostgresDSN
	}

	if profile.Playback.Player != "" {
		result.Playback.Player = profile.Playback.Player
		inh.Playback.Player = "profile-specific"
	}

	if profile.Server.Port != "" {
		result.Server.Port = profile.Server.Port
	}
	if profile.Server.Metrics != nil {
		enabled := *profile.Server.Metrics
		result.Server.Metrics = &enabled
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// validateConfig checks a resolved configuration
func validateConfig(config *Config) error {
	switch config.Recording.Quality {
	case "low", "high":
	default:
		return fmt.Errorf("recording.quality must be 'low' or 'high', got: %s", config.Recording.Quality)
	}
	if config.Recording.PollIntervalMs < 0 {
		return fmt.Errorf("recording.poll_interval_ms must be >= 0, got: %d", config.Recording.PollIntervalMs)
	}

	switch config.Capture.Backend {
	case "ffmpeg", "auto":
	default:
		return fmt.Errorf("capture.backend must be 'ffmpeg' or 'auto', got: %s", config.Capture.Backend)
	}
	switch config.Capture.InputFormat {
	case "pulse", "pipewire", "jack", "alsa":
	default:
		return fmt.Errorf("capture.input_format must be one of pulse, pipewire, jack, alsa, got: %s", config.Capture.InputFormat)
	}
	if config.Capture.SampleRate < 8000 || config.Capture.SampleRate > 192000 {
		return fmt.Errorf("capture.sample_rate must be between 8000 and 192000, got: %d", config.Capture.SampleRate)
	}
	if config.Capture.Channels != 1 && config.Capture.Channels != 2 {
		return fmt.Errorf("capture.channels must be 1 or 2, got: %d", config.Capture.Channels)
	}

	if config.Storage.RecordingsDirectory == "" {
		return fmt.Errorf("storage.recordings_directory is required")
	}
	switch config.Storage.Backend {
	case "file":
		if config.Storage.KVFile == "" {
			return fmt.Errorf("storage.kv_file is required for the file backend")
		}
	case "postgres":
		if config.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'file' or 'postgres', got: %s", config.Storage.Backend)
	}

	switch config.Playback.Player {
	case "auto", "vlc", "mpv", "ffplay", "aplay":
	default:
		return fmt.Errorf("playback.player must be one of auto, vlc, mpv, ffplay, aplay, got: %s", config.Playback.Player)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("POCKETREC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			rootConfig.Configs[name] = &Config{}
		}
	}
	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not match any profile", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// ProfileNames returns the profiles declared in the config file
func ProfileNames(configFile string) ([]string, string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, "", err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rootConfig.ActiveConfig, nil
}
