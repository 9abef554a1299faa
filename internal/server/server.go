package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/pocketrec/internal/audio"
	"github.com/audiolibrelab/pocketrec/internal/catalog"
	"github.com/audiolibrelab/pocketrec/internal/config"
	"github.com/audiolibrelab/pocketrec/internal/observe"
	"github.com/audiolibrelab/pocketrec/internal/service"
	"github.com/audiolibrelab/pocketrec/internal/session"
)

// Server represents the web server for controlling PocketRec
type Server struct {
	service       service.Service
	cfg           *config.Config
	configFile    string
	activeProfile string
	metrics       *observe.Metrics

	// waveformInterval is the push period of the waveform stream
	waveformInterval time.Duration
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Session       session.Snapshot       `json:"session"`
	Playback      service.PlaybackStatus `json:"playback"`
	LastError     string                 `json:"last_error,omitempty"`
	ActiveProfile string                 `json:"active_profile"`
}

// RecordingsResponse represents the JSON response for the recordings endpoint
type RecordingsResponse struct {
	Recordings []service.RecordingInfo `json:"recordings"`
	TotalCount int                     `json:"total_count"`
	Directory  string                  `json:"directory"`
}

// StopResponse represents the JSON response for the stop endpoint
type StopResponse struct {
	Success        bool            `json:"success"`
	FileURI        string          `json:"file_uri"`
	DurationMillis int64           `json:"duration_ms"`
	Record         *catalog.Record `json:"record,omitempty"`
}

// ExportResponse represents the JSON response for the export endpoint
type ExportResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Format  string `json:"format"`
}

// RenameRequest is the body of a rename request
type RenameRequest struct {
	Name string `json:"name"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, configFile, activeProfile string, metrics *observe.Metrics) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		service:          svc,
		cfg:              svc.GetConfig(),
		configFile:       configFile,
		activeProfile:    activeProfile,
		metrics:          metrics,
		waveformInterval: 200 * time.Millisecond,
	}
}

// Handler builds the routed and instrumented handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /config/profiles", s.handleProfiles)

	// Recording session
	mux.HandleFunc("POST /api/record/start", s.handleStart)
	mux.HandleFunc("POST /api/record/pause", s.handlePause)
	mux.HandleFunc("POST /api/record/resume", s.handleResume)
	mux.HandleFunc("POST /api/record/stop", s.handleStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/waveform", s.handleWaveform)

	// Catalog
	mux.HandleFunc("GET /api/recordings", s.handleRecordings)
	mux.HandleFunc("GET /api/recordings/{id}/stream", s.handleRecordingStream)
	mux.HandleFunc("POST /api/recordings/{id}/rename", s.handleRename)
	mux.HandleFunc("DELETE /api/recordings/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/recordings/{id}/export", s.handleExport)

	// Playback
	mux.HandleFunc("POST /api/recordings/{id}/play", s.handlePlayRecording)
	mux.HandleFunc("POST /api/playback/toggle", s.handleTogglePlayback)
	mux.HandleFunc("POST /api/playback/stop", s.handleStopPlayback)

	if s.cfg != nil && s.cfg.Server.MetricsEnabled() {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return observe.Middleware(s.metrics)(mux)
}

// Start serves on the configured port until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	port := "8080"
	if s.cfg != nil && s.cfg.Server.Port != "" {
		port = s.cfg.Server.Port
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("Starting PocketRec Web Server",
		"port", port,
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// handleIndex serves a minimal landing page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(defaultHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "ok"})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if s.configFile == "" {
		s.sendJSON(w, http.StatusOK, map[string]interface{}{"profiles": []string{}, "active": s.activeProfile})
		return
	}
	names, active, err := config.ProfileNames(s.configFile)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to read profiles: %v", err), "operation", "list_profiles")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": names,
		"active":   active,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.service.StartRecording(r.Context()); err != nil {
		s.sendServiceError(w, err, "start_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PauseRecording(r.Context()); err != nil {
		s.sendServiceError(w, err, "pause_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ResumeRecording(r.Context()); err != nil {
		s.sendServiceError(w, err, "resume_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, s.status())
}

// handleStop stops the session and reports the saved record
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.StopRecording(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "stop_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, StopResponse{
		Success:        true,
		FileURI:        res.FileURI,
		DurationMillis: res.DurationMillis,
		Record:         res.Record,
	})
}

// handleStatus returns the current session and playback state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Session:       s.service.GetRecordingStatus(),
		Playback:      s.service.GetPlaybackStatus(),
		LastError:     s.service.GetLastError(),
		ActiveProfile: s.activeProfile,
	}
}

// handleRecordings lists the catalog
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := s.service.ListRecordings(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "list_recordings")
		return
	}

	dir := ""
	if s.cfg != nil {
		dir = s.cfg.Storage.RecordingsDirectory
	}
	s.sendJSON(w, http.StatusOK, RecordingsResponse{
		Recordings: recordings,
		TotalCount: len(recordings),
		Directory:  dir,
	})
}

// handleRecordingStream serves the audio file of a recording
func (s *Server) handleRecordingStream(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetRecording(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendServiceError(w, err, "stream_recording")
		return
	}

	file, err := os.Open(info.Path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error opening file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, filepath.Base(info.Path), stat.ModTime(), file)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "rename_recording")
		return
	}
	if req.Name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Name is required", "operation", "rename_recording")
		return
	}

	if err := s.service.RenameRecording(r.Context(), r.PathValue("id"), req.Name); err != nil {
		s.sendServiceError(w, err, "rename_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording renamed"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRecording(r.Context(), r.PathValue("id")); err != nil {
		s.sendServiceError(w, err, "delete_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording deleted"})
}

// handleExport transcodes a recording; the format query parameter defaults to flac
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "flac"
	}

	path, err := s.service.ExportRecording(r.Context(), r.PathValue("id"), format, "")
	if err != nil {
		s.sendServiceError(w, err, "export_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, ExportResponse{Success: true, Path: path, Format: format})
}

func (s *Server) handlePlayRecording(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.PlayRecording(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendServiceError(w, err, "play_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, st)
}

func (s *Server) handleTogglePlayback(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.TogglePlayback(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "toggle_playback")
		return
	}
	s.sendJSON(w, http.StatusOK, st)
}

func (s *Server) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	if err := s.service.StopPlayback(r.Context()); err != nil {
		s.sendServiceError(w, err, "stop_playback")
		return
	}
	s.sendJSON(w, http.StatusOK, s.service.GetPlaybackStatus())
}

// sendServiceError maps service errors to HTTP status codes
func (s *Server) sendServiceError(w http.ResponseWriter, err error, operation string) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrRecordingNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrNothingToPlay):
		code = http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		code = http.StatusForbidden
	case errors.Is(err, session.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	s.sendErrorResponse(w, code, err.Error(), "operation", operation)
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

const defaultHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>PocketRec</title>
</head>
<body>
    <h1>PocketRec</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /api/record/start | pause | resume | stop</li>
        <li>GET /api/status</li>
        <li>GET /api/waveform (websocket)</li>
        <li>GET /api/recordings</li>
        <li>POST /api/recordings/{id}/rename, POST /api/recordings/{id}/play, DELETE /api/recordings/{id}</li>
        <li>POST /api/recordings/{id}/export?format=flac</li>
        <li>POST /api/playback/toggle | stop</li>
    </ul>
</body>
</html>`
