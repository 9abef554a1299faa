package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/audiolibrelab/pocketrec/internal/config"
)

// silenceDB is the floor reported for a buffer with no signal
const silenceDB = -160.0

// FFmpegCapture captures microphone PCM with ffmpeg and encodes it to WAV.
// Pausing keeps ffmpeg running and drops the buffers until resumed.
type FFmpegCapture struct {
	cfg     config.CaptureConfig
	sources *SourceLister

	startupGrace time.Duration

	mu       sync.Mutex
	sessions map[CaptureHandle]*ffmpegSession
}

// NewFFmpegCapture creates a capture engine from the capture configuration
func NewFFmpegCapture(cfg config.CaptureConfig) *FFmpegCapture {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &FFmpegCapture{
		cfg:          cfg,
		sources:      NewSourceLister(cfg.InputFormat),
		startupGrace: 250 * time.Millisecond,
		sessions:     make(map[CaptureHandle]*ffmpegSession),
	}
}

// Acquire starts ffmpeg and begins writing a temporary WAV file
func (c *FFmpegCapture) Acquire(ctx context.Context, opts CaptureOptions) (CaptureHandle, error) {
	if _, err := exec.LookPath(c.cfg.Command); err != nil {
		return "", fmt.Errorf("%w: capture command %q not found", ErrDeviceError, c.cfg.Command)
	}
	if err := c.sources.ValidateSource(c.cfg.InputDevice); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceError, err)
	}

	sampleRate, channels := c.cfg.SampleRate, c.cfg.Channels
	if opts.Quality == QualityLow {
		sampleRate, channels = 16000, 1
	}

	if c.cfg.TempDirectory != "" {
		if err := os.MkdirAll(c.cfg.TempDirectory, 0755); err != nil {
			return "", fmt.Errorf("%w: failed to create capture directory: %v", ErrDeviceError, err)
		}
	}
	out, err := os.CreateTemp(c.cfg.TempDirectory, "capture-*.wav")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create capture file: %v", ErrDeviceError, err)
	}

	logLevel := os.Getenv("FFMPEG_LOGLEVEL")
	if logLevel == "" {
		logLevel = "warning"
	}
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", logLevel,
		"-f", c.cfg.InputFormat,
		"-i", c.cfg.InputDevice,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-",
	}

	// The process must outlive the Acquire call, so it is not bound to ctx.
	cmd := exec.Command(c.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		discardFile(out)
		return "", fmt.Errorf("%w: failed to create ffmpeg stdout pipe: %v", ErrDeviceError, err)
	}

	slog.Debug("Starting capture", "command", c.cfg.Command, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		discardFile(out)
		return "", fmt.Errorf("%w: failed to start ffmpeg: %v", ErrDeviceError, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		discardFile(out)
		return "", classifyStartupFailure(err, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		discardFile(out)
		return "", ctx.Err()
	case <-time.After(c.startupGrace):
	}

	session := &ffmpegSession{
		handle:     CaptureHandle(uuid.NewString()),
		path:       out.Name(),
		file:       out,
		encoder:    wav.NewEncoder(out, sampleRate, 16, channels, 1),
		sampleRate: sampleRate,
		channels:   channels,
		metering:   opts.MeteringEnabled,
		stdout:     stdout,
		stderr:     &stderr,
		process:    cmd.Process,
		waitErr:    waitErr,
		pumpDone:   make(chan struct{}),
	}

	c.mu.Lock()
	c.sessions[session.handle] = session
	c.mu.Unlock()

	go session.pump()

	slog.Info("Capture started", "handle", session.handle, "sample_rate", sampleRate, "channels", channels)
	return session.handle, nil
}

// Pause stops appending audio to the file
func (c *FFmpegCapture) Pause(ctx context.Context, h CaptureHandle) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}
	s.setPaused(true)
	return nil
}

// Resume continues appending audio to the file
func (c *FFmpegCapture) Resume(ctx context.Context, h CaptureHandle) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}
	s.setPaused(false)
	return nil
}

// Finalize stops ffmpeg, closes the WAV file and returns its path
func (c *FFmpegCapture) Finalize(ctx context.Context, h CaptureHandle) (string, error) {
	c.mu.Lock()
	s, ok := c.sessions[h]
	delete(c.sessions, h)
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown capture handle %s", ErrDeviceError, h)
	}

	stopErr := s.stop()
	if err := s.close(); err != nil {
		discardFile(s.file)
		return "", fmt.Errorf("failed to finalize capture file: %w", err)
	}
	if stopErr != nil {
		slog.Warn("Capture process did not stop cleanly", "handle", h, "error", stopErr)
	}

	slog.Info("Capture finalized", "handle", h, "file", s.path, "elapsed_ms", s.elapsedMillis())
	return s.path, nil
}

// Status reports whether the capture is running and how much audio it holds
func (c *FFmpegCapture) Status(ctx context.Context, h CaptureHandle) (CaptureStatus, error) {
	s, err := c.session(h)
	if err != nil {
		return CaptureStatus{}, err
	}
	return s.status(), nil
}

// OnStatusUpdate registers the callback invoked after every captured buffer
func (c *FFmpegCapture) OnStatusUpdate(h CaptureHandle, fn func(CaptureStatus)) {
	s, err := c.session(h)
	if err != nil {
		slog.Debug("Status callback registered for unknown capture", "handle", h)
		return
	}
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

func (c *FFmpegCapture) session(h CaptureHandle) (*ffmpegSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[h]
	if !ok {
		return nil, fmt.Errorf("%w: unknown capture handle %s", ErrDeviceError, h)
	}
	return s, nil
}

type ffmpegSession struct {
	handle     CaptureHandle
	path       string
	file       *os.File
	encoder    *wav.Encoder
	sampleRate int
	channels   int
	metering   bool

	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	pumpDone chan struct{}
	stopOnce sync.Once
	stopErr  error

	mu       sync.Mutex
	paused   bool
	stopped  bool
	frames   int64
	writeErr error
	callback func(CaptureStatus)
}

// pump copies PCM from ffmpeg into the encoder in ~100ms buffers
func (s *ffmpegSession) pump() {
	defer close(s.pumpDone)

	frameBytes := 2 * s.channels
	buf := make([]byte, (s.sampleRate/10)*frameBytes)
	var carry []byte

	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			whole := len(chunk) - len(chunk)%frameBytes
			s.consume(chunk[:whole])
			carry = append([]byte(nil), chunk[whole:]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("Capture stream ended", "handle", s.handle, "error", err)
			}
			return
		}
	}
}

func (s *ffmpegSession) consume(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	samples := decodePCM16(pcm)

	s.mu.Lock()
	if s.paused || s.stopped {
		s.mu.Unlock()
		return
	}
	if s.writeErr == nil {
		s.writeErr = s.encoder.Write(&goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
			Data:           samples,
			SourceBitDepth: 16,
		})
	}
	s.frames += int64(len(samples) / s.channels)
	callback := s.callback
	st := s.statusLocked()
	s.mu.Unlock()

	if callback == nil {
		return
	}
	if s.metering {
		db := meterDB(samples)
		st.MeteringDB = &db
	}
	callback(st)
}

func (s *ffmpegSession) setPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *ffmpegSession) status() CaptureStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *ffmpegSession) statusLocked() CaptureStatus {
	return CaptureStatus{
		Active:        !s.paused && !s.stopped,
		ElapsedMillis: s.frames * 1000 / int64(s.sampleRate),
	}
}

func (s *ffmpegSession) elapsedMillis() int64 {
	return s.status().ElapsedMillis
}

// stop interrupts ffmpeg, escalating to kill if it does not exit in time
func (s *ffmpegSession) stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		<-s.pumpDone

		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

func (s *ffmpegSession) close() error {
	s.mu.Lock()
	writeErr := s.writeErr
	s.mu.Unlock()

	encErr := s.encoder.Close()
	fileErr := s.file.Close()
	return errors.Join(writeErr, encErr, fileErr)
}

// decodePCM16 converts little-endian signed 16-bit PCM into samples
func decodePCM16(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return samples
}

// meterDB returns the RMS level of the samples in dBFS, floored at -160
func meterDB(samples []int) float64 {
	if len(samples) == 0 {
		return silenceDB
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768.0
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return silenceDB
	}
	return math.Max(20*math.Log10(rms), silenceDB)
}

// classifyStartupFailure maps an early ffmpeg exit onto the capture error taxonomy
func classifyStartupFailure(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "access denied") {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	}
	if err != nil {
		return fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", ErrDeviceError, err, detail)
	}
	return fmt.Errorf("%w: ffmpeg exited before capture started", ErrDeviceError)
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func discardFile(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}
