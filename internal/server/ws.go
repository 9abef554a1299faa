package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/audiolibrelab/pocketrec/internal/session"
)

// WaveformFrame is one message of the waveform stream
type WaveformFrame struct {
	State         session.State `json:"state"`
	ElapsedMillis int64         `json:"elapsed_ms"`
	Elapsed       string        `json:"elapsed"`
	// Offset is the index of Waveform[0] in the session waveform. Clients
	// append from Offset; an Offset of 0 starts the waveform over.
	Offset        int           `json:"offset"`
	Waveform      []float64     `json:"waveform"`
}

// handleWaveform streams the session waveform over a websocket. The first
// frame carries the whole waveform; later frames carry only new samples and
// are sent when the snapshot changes.
func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("Waveform websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Incoming messages are ignored; CloseRead cancels ctx when the client goes away
	ctx := conn.CloseRead(r.Context())

	if err := s.streamWaveform(ctx, conn); err != nil && !isClosed(err) {
		slog.Debug("Waveform stream ended", "error", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) streamWaveform(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(s.waveformInterval)
	defer ticker.Stop()

	var last *WaveformFrame
	sent := 0
	for {
		snap := s.service.GetRecordingStatus()

		// A shorter waveform or a clock that went back means a new session
		offset := sent
		if last == nil || len(snap.Waveform) < sent || snap.ElapsedMillis < last.ElapsedMillis {
			offset = 0
		}
		frame := WaveformFrame{
			State:         snap.State,
			ElapsedMillis: snap.ElapsedMillis,
			Elapsed:       snap.Elapsed,
			Offset:        offset,
			Waveform:      snap.Waveform[offset:],
		}
		if frame.Waveform == nil {
			frame.Waveform = []float64{}
		}

		if last == nil || offset < sent || frameChanged(*last, frame) {
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, frame)
			cancel()
			if err != nil {
				return err
			}
			last = &frame
			sent = len(snap.Waveform)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func frameChanged(last, next WaveformFrame) bool {
	return len(next.Waveform) > 0 || last.State != next.State || last.ElapsedMillis != next.ElapsedMillis
}

func isClosed(err error) bool {
	return errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1
}
