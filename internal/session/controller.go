// Package session drives one recording session at a time through the
// IDLE → RECORDING ⇄ PAUSED → STOPPED lifecycle.
//
// While recording, two independent feeds update the session: a periodic poll
// of the capture status that corrects the elapsed time, and the metering
// callback that appends normalized levels to the waveform. On stop the
// finished file is handed to a Sink, normally the recording catalog.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/pocketrec/internal/audio"
	"github.com/audiolibrelab/pocketrec/internal/catalog"
	"github.com/audiolibrelab/pocketrec/internal/observe"
)

// State is the lifecycle state of the session controller
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StatePaused    State = "PAUSED"
	StateStopped   State = "STOPPED"
)

const (
	minMeteringDB = -160.0
	maxMeteringDB = 0.0
)

var (
	// ErrNoRecordingFile is returned by Stop when the capture produced no file
	ErrNoRecordingFile = errors.New("no recording file produced")

	// ErrClosed is returned by Start and Resume after Close
	ErrClosed = errors.New("session controller closed")
)

// Sink receives finished recordings.
type Sink interface {
	Create(ctx context.Context, fileURI string, durationMillis int64) (catalog.Record, error)
}

type Config struct {
	Quality audio.Quality

	// PollInterval is the elapsed-time poll period; defaults to one second
	PollInterval time.Duration

	Metrics *observe.Metrics
}

// Snapshot is a copy of the controller's observable state.
type Snapshot struct {
	State         State           `json:"state"`
	ElapsedMillis int64           `json:"elapsed_ms"`
	Elapsed       string          `json:"elapsed"`
	Waveform      []float64       `json:"waveform"`
	LastFileURI   string          `json:"last_file_uri,omitempty"`
	LastRecord    *catalog.Record `json:"last_record,omitempty"`
}

// StopResult describes the file produced by Stop. Record is nil when the
// recording could not be saved.
type StopResult struct {
	FileURI        string
	DurationMillis int64
	Record         *catalog.Record
}

// activeSession is the capture held while RECORDING or PAUSED. A nil
// *activeSession means no session.
type activeSession struct {
	handle audio.CaptureHandle
	poller *poller
}

// Controller owns the recording state machine.
type Controller struct {
	capture audio.Capture
	sink    Sink
	cfg     Config
	metrics *observe.Metrics

	// opMu serializes lifecycle operations; it is held across capture I/O
	opMu sync.Mutex

	// mu guards the fields below and is never held across capture I/O
	mu         sync.Mutex
	state      State
	elapsed    int64
	samples    []float64
	session    *activeSession
	lastFile   string
	lastRecord *catalog.Record
	closed     bool
}

func NewController(capture audio.Capture, sink Sink, cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Quality == "" {
		cfg.Quality = audio.QualityHigh
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Controller{
		capture: capture,
		sink:    sink,
		cfg:     cfg,
		metrics: cfg.Metrics,
		state:   StateIdle,
		samples: []float64{},
	}
}

// Start begins a new session from IDLE or STOPPED. In any other state it
// does nothing. If the capture cannot be acquired the state is unchanged.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	from, closed := c.state, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if from != StateIdle && from != StateStopped {
		slog.Debug("Start ignored", "state", from)
		return nil
	}

	h, err := c.capture.Acquire(ctx, audio.CaptureOptions{Quality: c.cfg.Quality, MeteringEnabled: true})
	if err != nil {
		c.captureFailed(ctx, "start", err)
		return fmt.Errorf("failed to start recording: %w", err)
	}

	sess := &activeSession{handle: h}
	c.mu.Lock()
	c.state = StateRecording
	c.elapsed = 0
	c.samples = []float64{}
	c.session = sess
	c.lastFile = ""
	c.lastRecord = nil
	sess.poller = c.startPoller(sess)
	c.mu.Unlock()

	c.capture.OnStatusUpdate(h, func(st audio.CaptureStatus) {
		c.onStatusUpdate(h, st)
	})

	c.metrics.ActiveSessions.Add(ctx, 1)
	c.transitioned(ctx, from, StateRecording)
	slog.Info("Recording started", "quality", c.cfg.Quality, "handle", h)
	return nil
}

// Pause suspends a RECORDING session; elapsed time is frozen.
func (c *Controller) Pause(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		slog.Debug("Pause ignored", "state", state)
		return nil
	}
	sess := c.session
	c.mu.Unlock()

	if err := c.capture.Pause(ctx, sess.handle); err != nil {
		c.captureFailed(ctx, "pause", err)
		return fmt.Errorf("failed to pause recording: %w", err)
	}

	c.mu.Lock()
	c.state = StatePaused
	p := sess.poller
	sess.poller = nil
	elapsed := c.elapsed
	c.mu.Unlock()
	p.stop()

	c.transitioned(ctx, StateRecording, StatePaused)
	slog.Info("Recording paused", "elapsed_ms", elapsed)
	return nil
}

// Resume continues a PAUSED session from the frozen elapsed time.
func (c *Controller) Resume(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StatePaused {
		state := c.state
		c.mu.Unlock()
		slog.Debug("Resume ignored", "state", state)
		return nil
	}
	sess := c.session
	c.mu.Unlock()

	if err := c.capture.Resume(ctx, sess.handle); err != nil {
		c.captureFailed(ctx, "resume", err)
		return fmt.Errorf("failed to resume recording: %w", err)
	}

	c.mu.Lock()
	c.state = StateRecording
	sess.poller = c.startPoller(sess)
	c.mu.Unlock()

	c.transitioned(ctx, StatePaused, StateRecording)
	slog.Info("Recording resumed")
	return nil
}

// Stop finalizes a RECORDING or PAUSED session and hands the file to the
// sink. The controller ends in STOPPED even when Stop returns an error.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	from := c.state
	if from != StateRecording && from != StatePaused {
		c.mu.Unlock()
		slog.Debug("Stop ignored", "state", from)
		return StopResult{}, nil
	}
	sess := c.session
	p := sess.poller
	sess.poller = nil
	c.mu.Unlock()
	p.stop()

	// Take the capture's own count before it is released
	if st, err := c.capture.Status(ctx, sess.handle); err == nil {
		c.mu.Lock()
		c.elapsed = max(c.elapsed, st.ElapsedMillis)
		c.mu.Unlock()
	}

	uri, finalizeErr := c.capture.Finalize(ctx, sess.handle)

	c.mu.Lock()
	elapsed := c.elapsed
	c.state = StateStopped
	c.session = nil
	c.samples = []float64{}
	c.lastFile = uri
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, -1)
	c.transitioned(ctx, from, StateStopped)

	result := StopResult{FileURI: uri, DurationMillis: elapsed}
	if finalizeErr != nil || uri == "" {
		c.captureFailed(ctx, "stop", finalizeErr)
		if finalizeErr != nil {
			return result, fmt.Errorf("%w: %w", ErrNoRecordingFile, finalizeErr)
		}
		return result, ErrNoRecordingFile
	}

	rec, err := c.sink.Create(ctx, uri, elapsed)
	if err != nil {
		slog.Error("Recording stopped but could not be saved", "file", uri, "error", err)
		return result, fmt.Errorf("failed to save recording: %w", err)
	}

	c.mu.Lock()
	c.lastFile = rec.Location
	c.lastRecord = &rec
	c.mu.Unlock()

	result.FileURI = rec.Location
	result.Record = &rec
	slog.Info("Recording stopped", "file", rec.Location, "elapsed_ms", elapsed)
	return result, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	waveform := make([]float64, len(c.samples))
	copy(waveform, c.samples)

	snap := Snapshot{
		State:         c.state,
		ElapsedMillis: c.elapsed,
		Elapsed:       catalog.FormatDuration(c.elapsed),
		Waveform:      waveform,
		LastFileURI:   c.lastFile,
	}
	if c.lastRecord != nil {
		rec := *c.lastRecord
		snap.LastRecord = &rec
	}
	return snap
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears down the poll timer. A held capture is left for Stop to
// finalize; Start and Resume fail afterwards.
func (c *Controller) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.closed = true
	var p *poller
	if c.session != nil {
		p = c.session.poller
		c.session.poller = nil
	}
	c.mu.Unlock()
	p.stop()
}

// onStatusUpdate appends the metering level of the live session.
// Updates from a released handle are dropped.
func (c *Controller) onStatusUpdate(h audio.CaptureHandle, st audio.CaptureStatus) {
	if st.MeteringDB == nil {
		return
	}
	level := Normalize(*st.MeteringDB)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.handle != h || c.state != StateRecording {
		return
	}
	c.samples = append(c.samples, level)
}

// poll overwrites elapsed with the capture-reported duration.
func (c *Controller) poll(sess *activeSession) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PollInterval)
	defer cancel()

	st, err := c.capture.Status(ctx, sess.handle)
	if err != nil {
		slog.Debug("Capture status poll failed", "handle", sess.handle, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess || c.state != StateRecording || !st.Active {
		return
	}
	// elapsed never goes backwards while recording
	c.elapsed = max(c.elapsed, st.ElapsedMillis)
}

func (c *Controller) transitioned(ctx context.Context, from, to State) {
	c.metrics.RecordTransition(ctx, string(from), string(to))
}

func (c *Controller) captureFailed(ctx context.Context, op string, err error) {
	kind := "other"
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		kind = "permission_denied"
	case errors.Is(err, audio.ErrDeviceError):
		kind = "device_error"
	case err == nil:
		kind = "no_file"
	}
	c.metrics.RecordCaptureFailure(ctx, op, kind)
	slog.Error("Capture operation failed", "op", op, "kind", kind, "error", err)
}

// Normalize maps a metering level in dBFS onto [0, 1], with -160 dB at 0
// and 0 dB at 1. NaN maps to 0.
func Normalize(db float64) float64 {
	if math.IsNaN(db) {
		return 0
	}
	v := (db - minMeteringDB) / (maxMeteringDB - minMeteringDB)
	return math.Min(math.Max(v, 0), 1)
}
