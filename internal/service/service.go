package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/pocketrec/internal/catalog"
	"github.com/audiolibrelab/pocketrec/internal/config"
	"github.com/audiolibrelab/pocketrec/internal/play"
	"github.com/audiolibrelab/pocketrec/internal/session"
)

var (
	// ErrNothingToPlay is returned when playback is toggled before anything was recorded
	ErrNothingToPlay = errors.New("no recording to play")

	// ErrRecordingNotFound is returned for an unknown recording id
	ErrRecordingNotFound = errors.New("recording not found")
)

// Service represents the core PocketRec service interface
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context) error
	PauseRecording(ctx context.Context) error
	ResumeRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (session.StopResult, error)
	GetRecordingStatus() session.Snapshot

	// Catalog operations
	ListRecordings(ctx context.Context) ([]RecordingInfo, error)
	GetRecording(ctx context.Context, id string) (RecordingInfo, error)
	RenameRecording(ctx context.Context, id, name string) error
	DeleteRecording(ctx context.Context, id string) error
	ExportRecording(ctx context.Context, id, format, outputDir string) (string, error)

	// Playback operations
	TogglePlayback(ctx context.Context) (PlaybackStatus, error)
	PlayRecording(ctx context.Context, id string) (PlaybackStatus, error)
	StopPlayback(ctx context.Context) error
	GetPlaybackStatus() PlaybackStatus

	// Configuration operations
	GetConfig() *config.Config
	GetLastError() string

	Close(ctx context.Context) error
}

// RecordingInfo is a catalog record enriched with file information
type RecordingInfo struct {
	catalog.Record
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Missing      bool      `json:"missing,omitempty"`
	StreamURL    string    `json:"stream_url"`
}

// PlaybackState describes the loaded sound
type PlaybackState string

const (
	PlaybackNone    PlaybackState = "NONE"
	PlaybackPlaying PlaybackState = "PLAYING"
	PlaybackPaused  PlaybackState = "PAUSED"
)

// PlaybackStatus reports what is loaded for playback
type PlaybackStatus struct {
	State       PlaybackState `json:"state"`
	URI         string        `json:"uri,omitempty"`
	RecordingID string        `json:"recording_id,omitempty"`
}

// Recorder is the part of the session controller the service drives
type Recorder interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) (session.StopResult, error)
	Snapshot() session.Snapshot
	Close()
}

// Catalog is the part of the recording catalog the service drives
type Catalog interface {
	List(ctx context.Context) ([]catalog.Record, error)
	Get(ctx context.Context, id string) (catalog.Record, bool, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
}

// Exporter transcodes a recording file
type Exporter interface {
	Export(ctx context.Context, inputFile, outputDir, name, format string) (string, error)
}

// Dependencies are the components a PocketRecService is built from
type Dependencies struct {
	Recorder Recorder
	Catalog  Catalog
	Playback play.Playback
	Exporter Exporter

	// Closers run on Close after the recorder has been shut down
	Closers []func()
}

// PocketRecService is the main service implementation
type PocketRecService struct {
	cfg      *config.Config
	recorder Recorder
	catalog  Catalog
	playback play.Playback
	exporter Exporter
	closers  []func()

	// Playback management; at most one sound is loaded
	playMu     sync.Mutex
	sound      play.Sound
	soundURI   string
	soundID    string
	playing    bool
	generation int

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

var _ Service = (*PocketRecService)(nil)

// New creates a service from already built components
func New(cfg *config.Config, deps Dependencies) *PocketRecService {
	return &PocketRecService{
		cfg:      cfg,
		recorder: deps.Recorder,
		catalog:  deps.Catalog,
		playback: deps.Playback,
		exporter: deps.Exporter,
		closers:  deps.Closers,
	}
}

// StartRecording begins a new recording session
func (s *PocketRecService) StartRecording(ctx context.Context) error {
	slog.Debug("Service.StartRecording called")
	s.clearLastError()
	if err := s.recorder.Start(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// PauseRecording pauses the running session
func (s *PocketRecService) PauseRecording(ctx context.Context) error {
	if err := s.recorder.Pause(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to pause recording: %v", err))
		return err
	}
	return nil
}

// ResumeRecording resumes a paused session
func (s *PocketRecService) ResumeRecording(ctx context.Context) error {
	if err := s.recorder.Resume(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to resume recording: %v", err))
		return err
	}
	return nil
}

// StopRecording stops the session and saves the recording to the catalog
func (s *PocketRecService) StopRecording(ctx context.Context) (session.StopResult, error) {
	res, err := s.recorder.Stop(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return res, err
	}
	s.clearLastError()
	if res.Record != nil {
		slog.Info("Recording saved", "id", res.Record.ID, "name", res.Record.Name, "duration", res.Record.Duration)
	}
	return res, nil
}

// GetRecordingStatus returns a snapshot of the session controller
func (s *PocketRecService) GetRecordingStatus() session.Snapshot {
	return s.recorder.Snapshot()
}

// ListRecordings returns every saved recording. A corrupt catalog is
// reported through GetLastError and listed as empty.
func (s *PocketRecService) ListRecordings(ctx context.Context) ([]RecordingInfo, error) {
	records, err := s.catalog.List(ctx)
	if errors.Is(err, catalog.ErrCorruptState) {
		slog.Warn("Recording catalog is corrupt, listing as empty", "error", err)
		s.setLastError(fmt.Sprintf("Recording catalog is corrupt: %v", err))
		return []RecordingInfo{}, nil
	}
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to list recordings: %v", err))
		return nil, err
	}

	infos := make([]RecordingInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, describe(rec))
	}
	return infos, nil
}

// GetRecording returns one recording by id
func (s *PocketRecService) GetRecording(ctx context.Context, id string) (RecordingInfo, error) {
	rec, ok, err := s.catalog.Get(ctx, id)
	if err != nil {
		return RecordingInfo{}, err
	}
	if !ok {
		return RecordingInfo{}, fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}
	return describe(rec), nil
}

// RenameRecording changes the display name of a recording
func (s *PocketRecService) RenameRecording(ctx context.Context, id, name string) error {
	if err := s.catalog.Rename(ctx, id, name); err != nil {
		s.setLastError(fmt.Sprintf("Failed to rename recording: %v", err))
		return err
	}
	return nil
}

// DeleteRecording removes a recording. A sound loaded from it is released
// first, whether it was loaded by id or by toggling the latest recording.
func (s *PocketRecService) DeleteRecording(ctx context.Context, id string) error {
	rec, found, err := s.catalog.Get(ctx, id)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to delete recording: %v", err))
		return err
	}

	s.playMu.Lock()
	if s.sound != nil && (s.soundID == id || (found && s.soundURI == rec.Location)) {
		s.releaseLocked(ctx)
	}
	s.playMu.Unlock()

	if err := s.catalog.Delete(ctx, id); err != nil {
		s.setLastError(fmt.Sprintf("Failed to delete recording: %v", err))
		return err
	}
	return nil
}

// ExportRecording transcodes a recording into outputDir, named after the
// recording, and returns the exported path. An empty outputDir exports next
// to the recording.
func (s *PocketRecService) ExportRecording(ctx context.Context, id, format, outputDir string) (string, error) {
	info, err := s.GetRecording(ctx, id)
	if err != nil {
		return "", err
	}
	if outputDir == "" {
		outputDir = filepath.Join(filepath.Dir(info.Path), "exports")
	}

	out, err := s.exporter.Export(ctx, info.Path, outputDir, info.Name, format)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to export recording: %v", err))
		return "", err
	}
	return out, nil
}

// TogglePlayback plays the most recent recording of this session. The
// first call loads and plays it; later calls alternate pause and play until
// it finishes.
func (s *PocketRecService) TogglePlayback(ctx context.Context) (PlaybackStatus, error) {
	uri := s.recorder.Snapshot().LastFileURI
	if uri == "" {
		return s.GetPlaybackStatus(), ErrNothingToPlay
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()

	if s.sound != nil && s.soundURI == uri {
		var err error
		if s.playing {
			err = s.sound.Pause(ctx)
		} else {
			err = s.sound.Play(ctx)
		}
		if err != nil {
			s.setLastError(fmt.Sprintf("Playback failed: %v", err))
			s.releaseLocked(ctx)
			return s.statusLocked(), err
		}
		s.playing = !s.playing
		return s.statusLocked(), nil
	}

	if err := s.loadAndPlayLocked(ctx, uri, ""); err != nil {
		return s.statusLocked(), err
	}
	return s.statusLocked(), nil
}

// PlayRecording plays a catalog entry from the start, replacing any sound
// that is already loaded.
func (s *PocketRecService) PlayRecording(ctx context.Context, id string) (PlaybackStatus, error) {
	rec, ok, err := s.catalog.Get(ctx, id)
	if err != nil {
		return s.GetPlaybackStatus(), err
	}
	if !ok {
		return s.GetPlaybackStatus(), fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()

	if err := s.loadAndPlayLocked(ctx, rec.Location, rec.ID); err != nil {
		return s.statusLocked(), err
	}
	return s.statusLocked(), nil
}

// StopPlayback releases the loaded sound, if any
func (s *PocketRecService) StopPlayback(ctx context.Context) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	s.releaseLocked(ctx)
	return nil
}

// GetPlaybackStatus reports the loaded sound
func (s *PocketRecService) GetPlaybackStatus() PlaybackStatus {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	return s.statusLocked()
}

func (s *PocketRecService) GetConfig() *config.Config {
	return s.cfg
}

// Close releases playback, stops the session timer and closes storage
func (s *PocketRecService) Close(ctx context.Context) error {
	_ = s.StopPlayback(ctx)
	s.recorder.Close()
	for _, closer := range s.closers {
		closer()
	}
	return nil
}

// loadAndPlayLocked unloads the current sound, then loads and plays uri.
// Caller must hold playMu.
func (s *PocketRecService) loadAndPlayLocked(ctx context.Context, uri, id string) error {
	s.releaseLocked(ctx)

	sound, err := s.playback.Load(ctx, uri)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to load recording: %v", err))
		return err
	}

	s.generation++
	gen := s.generation
	sound.OnFinished(func() { s.finished(gen) })

	if err := sound.Play(ctx); err != nil {
		_ = sound.Unload(ctx)
		s.setLastError(fmt.Sprintf("Failed to play recording: %v", err))
		return err
	}

	s.sound = sound
	s.soundURI = uri
	s.soundID = id
	s.playing = true
	slog.Debug("Playback started", "uri", uri, "recording_id", id)
	return nil
}

// finished releases the sound of generation gen once it has played to the end
func (s *PocketRecService) finished(gen int) {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if s.sound == nil || s.generation != gen {
		return
	}
	slog.Debug("Playback finished", "uri", s.soundURI)
	s.releaseLocked(context.Background())
}

// releaseLocked unloads the current sound. Caller must hold playMu.
func (s *PocketRecService) releaseLocked(ctx context.Context) {
	if s.sound == nil {
		return
	}
	if err := s.sound.Unload(ctx); err != nil {
		slog.Warn("Failed to unload sound", "uri", s.soundURI, "error", err)
	}
	s.sound = nil
	s.soundURI = ""
	s.soundID = ""
	s.playing = false
}

func (s *PocketRecService) statusLocked() PlaybackStatus {
	if s.sound == nil {
		return PlaybackStatus{State: PlaybackNone}
	}
	st := PlaybackStatus{State: PlaybackPaused, URI: s.soundURI, RecordingID: s.soundID}
	if s.playing {
		st.State = PlaybackPlaying
	}
	return st
}

// describe adds file information to a record
func describe(rec catalog.Record) RecordingInfo {
	path := strings.TrimPrefix(rec.Location, "file://")
	info := RecordingInfo{
		Record:    rec,
		Path:      path,
		StreamURL: fmt.Sprintf("/api/recordings/%s/stream", rec.ID),
	}

	stat, err := os.Stat(path)
	if err != nil {
		info.Missing = true
		return info
	}
	info.Size = stat.Size()
	info.SizeHuman = formatBytes(stat.Size())
	info.ModTime = stat.ModTime()
	info.ModTimeHuman = stat.ModTime().Format("2006-01-02 15:04:05")
	return info
}

// GetLastError returns the last error message (thread-safe)
func (s *PocketRecService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *PocketRecService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *PocketRecService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
