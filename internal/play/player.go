package play

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/audiolibrelab/pocketrec/internal/config"
)

// ErrUnloaded is returned when a released sound is used again
var ErrUnloaded = errors.New("sound has been unloaded")

// Sound is one loaded recording.
type Sound interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	// Unload stops playback and releases the sound. It is safe to call twice.
	Unload(ctx context.Context) error
	// OnFinished registers fn to run when playback reaches the end.
	// It is not called for a sound that was unloaded.
	OnFinished(fn func())
}

// Playback loads recordings for playing.
type Playback interface {
	Load(ctx context.Context, uri string) (Sound, error)
}

// Player plays files through an external command-line audio player.
type Player struct {
	player   string
	lookPath func(file string) (string, error)
}

var _ Playback = (*Player)(nil)

func New(cfg config.PlaybackConfig) *Player {
	return &Player{player: cfg.Player, lookPath: exec.LookPath}
}

// Load checks that the file exists and resolves a player for it. Nothing is
// played until Play is called.
func (p *Player) Load(ctx context.Context, uri string) (Sound, error) {
	audioFile := strings.TrimPrefix(uri, "file://")
	if _, err := os.Stat(audioFile); err != nil {
		return nil, fmt.Errorf("audio file not found: %s", audioFile)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return nil, fmt.Errorf("no suitable audio player found: %w", err)
	}

	args, err := playerArgs(player, audioFile)
	if err != nil {
		return nil, err
	}

	slog.Debug("Sound loaded", "file", audioFile, "player", player)
	return &processSound{player: player, args: args, file: audioFile}, nil
}

func (p *Player) findAudioPlayer() (string, error) {
	if p.player != "" && p.player != "auto" {
		if _, err := p.lookPath(p.player); err != nil {
			return "", fmt.Errorf("configured player %s not found: %w", p.player, err)
		}
		return p.player, nil
	}

	// List of preferred audio players in order of preference
	players := []string{"vlc", "mpv", "ffplay", "aplay"}

	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

func playerArgs(player, audioFile string) ([]string, error) {
	switch filepath.Base(player) {
	case "vlc":
		return []string{"-I", "dummy", "--play-and-exit", audioFile}, nil
	case "mpv":
		return []string{"--no-video", "--really-quiet", audioFile}, nil
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", audioFile}, nil
	case "aplay":
		// aplay only plays WAV
		if !strings.EqualFold(filepath.Ext(audioFile), ".wav") {
			return nil, fmt.Errorf("aplay requires WAV format, got %s", filepath.Ext(audioFile))
		}
		return []string{"-q", audioFile}, nil
	default:
		return []string{audioFile}, nil
	}
}

// processSound runs the player as a child process. Pause and resume use
// SIGSTOP and SIGCONT on that process.
type processSound struct {
	player string
	args   []string
	file   string

	mu         sync.Mutex
	cmd        *exec.Cmd
	done       chan struct{}
	paused     bool
	unloaded   bool
	onFinished func()
}

func (s *processSound) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unloaded {
		return ErrUnloaded
	}
	if s.cmd != nil && s.paused {
		if err := s.cmd.Process.Signal(syscall.SIGCONT); err != nil {
			return fmt.Errorf("failed to resume playback: %w", err)
		}
		s.paused = false
		return nil
	}
	if s.cmd != nil {
		return nil
	}

	cmd := exec.Command(s.player, s.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", s.player, err)
	}
	s.cmd = cmd
	s.paused = false
	s.done = make(chan struct{})
	go s.wait(cmd, s.done)

	slog.Info("Playing", "file", s.file, "player", s.player)
	return nil
}

func (s *processSound) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	s.mu.Lock()
	if s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	// Playing again after the end starts from the beginning
	s.cmd = nil
	s.paused = false
	unloaded := s.unloaded
	fn := s.onFinished
	s.mu.Unlock()

	if unloaded {
		return
	}
	if err != nil {
		slog.Warn("Player exited with error", "player", s.player, "error", err)
	}
	slog.Debug("Playback completed", "file", s.file)
	if fn != nil {
		fn()
	}
}

func (s *processSound) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unloaded {
		return ErrUnloaded
	}
	if s.cmd == nil || s.paused {
		return nil
	}
	if err := s.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("failed to pause playback: %w", err)
	}
	s.paused = true
	return nil
}

func (s *processSound) Unload(ctx context.Context) error {
	s.mu.Lock()
	if s.unloaded {
		s.mu.Unlock()
		return nil
	}
	s.unloaded = true
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *processSound) OnFinished(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinished = fn
}
