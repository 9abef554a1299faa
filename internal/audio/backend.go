package audio

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/pocketrec/internal/config"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypeFFmpeg BackendType = "ffmpeg"
	BackendTypeAuto   BackendType = "auto"
)

// NewCapture creates a capture engine using the backend named in the configuration
func NewCapture(cfg *config.Config) (Capture, error) {
	backend := resolveBackend(determineBackend(cfg))
	switch backend {
	case BackendTypeFFmpeg:
		return NewFFmpegCapture(cfg.Capture), nil
	}
	return nil, fmt.Errorf("unsupported capture backend: %s", backend)
}

// determineBackend reads the backend from configuration. Empty means auto.
func determineBackend(cfg *config.Config) BackendType {
	name := strings.ToLower(strings.TrimSpace(cfg.Capture.Backend))
	if name == "" {
		return BackendTypeAuto
	}
	return BackendType(name)
}

// resolveBackend picks the first available backend for auto
func resolveBackend(b BackendType) BackendType {
	if b == BackendTypeAuto {
		return GetAvailableBackends()[0]
	}
	return b
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeFFmpeg}
}
