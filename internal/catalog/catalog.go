// Package catalog keeps the durable list of saved recordings.
//
// The whole list is stored as one JSON array under a single key of a
// key-value store. Every operation reads the full list and every mutation
// writes the full list back; there is no partial persistence.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/pocketrec/internal/observe"
)

// StateKey is the key the recording list is persisted under
const StateKey = "recordings"

var (
	// ErrStorageFailure reports a directory, move, delete or persistence failure
	ErrStorageFailure = errors.New("storage failure")

	// ErrCorruptState reports persisted catalog data that cannot be parsed
	ErrCorruptState = errors.New("corrupt catalog state")
)

// Record is one saved recording. The JSON field names are the persisted
// format and must not change.
type Record struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"uri"`
	Duration string `json:"duration"`
}

// FileService moves and deletes recording files.
type FileService interface {
	EnsureDir(ctx context.Context, path string) error
	Move(ctx context.Context, from, to string) error
	// Delete removes path; a missing file is not an error.
	Delete(ctx context.Context, path string) error
}

// KVStore persists string values by key.
type KVStore interface {
	// Get returns ok=false when the key has never been set.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

type Config struct {
	// Directory receives relocated recordings
	Directory string

	Metrics *observe.Metrics

	// Now stamps file names; defaults to time.Now
	Now func() time.Time
}

// Store is the recording catalog.
type Store struct {
	files   FileService
	kv      KVStore
	dir     string
	metrics *observe.Metrics
	now     func() time.Time

	mu        sync.Mutex
	lastStamp int64
}

func New(files FileService, kv KVStore, cfg Config) *Store {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		files:   files,
		kv:      kv,
		dir:     cfg.Directory,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// Create moves the finished file into the recordings directory and appends
// a record for it. On failure the persisted list is unchanged.
func (s *Store) Create(ctx context.Context, fileURI string, durationMillis int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return Record{}, s.fail(ctx, "create", err)
	}

	if err := s.files.EnsureDir(ctx, s.dir); err != nil {
		return Record{}, s.fail(ctx, "create", fmt.Errorf("%w: failed to create recordings directory: %v", ErrStorageFailure, err))
	}

	src := pathFromURI(fileURI)
	dst := filepath.Join(s.dir, fmt.Sprintf("recording-%d%s", s.nextStamp(), filepath.Ext(src)))
	if err := s.files.Move(ctx, src, dst); err != nil {
		return Record{}, s.fail(ctx, "create", fmt.Errorf("%w: failed to move recording: %v", ErrStorageFailure, err))
	}

	rec := Record{
		ID:       "rec-" + uuid.NewString(),
		Name:     fmt.Sprintf("Recording %d", len(records)+1),
		Location: dst,
		Duration: FormatDuration(durationMillis),
	}

	if err := s.save(ctx, append(records, rec)); err != nil {
		if mvErr := s.files.Move(ctx, dst, src); mvErr != nil {
			slog.Warn("Failed to move recording back after save failure", "file", dst, "error", mvErr)
		}
		return Record{}, s.fail(ctx, "create", err)
	}

	s.metrics.RecordSaved(ctx, durationMillis)
	slog.Info("Recording saved", "id", rec.ID, "name", rec.Name, "file", rec.Location, "duration", rec.Duration)
	return rec, nil
}

// List returns all records in insertion order; empty when nothing is stored.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		slog.Error("Failed to read recordings", "error", err)
		return nil, err
	}
	return records, nil
}

// Get looks up a record by id.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// Rename changes a record's display name. Unknown ids are ignored.
func (s *Store) Rename(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return s.fail(ctx, "rename", err)
	}

	found := false
	for i := range records {
		if records[i].ID == id {
			records[i].Name = name
			found = true
			break
		}
	}
	if !found {
		slog.Debug("Rename of unknown recording ignored", "id", id)
	}

	if err := s.save(ctx, records); err != nil {
		return s.fail(ctx, "rename", err)
	}
	return nil
}

// Delete removes a record and its file. Unknown ids are ignored and a
// missing file is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx)
	if err != nil {
		return s.fail(ctx, "delete", err)
	}

	var removed *Record
	kept := make([]Record, 0, len(records))
	for i := range records {
		if records[i].ID == id && removed == nil {
			removed = &records[i]
			continue
		}
		kept = append(kept, records[i])
	}

	if err := s.save(ctx, kept); err != nil {
		return s.fail(ctx, "delete", err)
	}

	if removed == nil {
		slog.Debug("Delete of unknown recording ignored", "id", id)
		return nil
	}
	if err := s.files.Delete(ctx, removed.Location); err != nil {
		return s.fail(ctx, "delete", fmt.Errorf("%w: failed to delete %s: %v", ErrStorageFailure, removed.Location, err))
	}

	slog.Info("Recording deleted", "id", id, "file", removed.Location)
	return nil
}

func (s *Store) load(ctx context.Context) ([]Record, error) {
	raw, ok, err := s.kv.Get(ctx, StateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read catalog: %v", ErrStorageFailure, err)
	}
	records := []Record{}
	if !ok || strings.TrimSpace(raw) == "" {
		return records, nil
	}
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (s *Store) save(ctx context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: failed to encode catalog: %v", ErrStorageFailure, err)
	}
	if err := s.kv.Set(ctx, StateKey, string(data)); err != nil {
		return fmt.Errorf("%w: failed to write catalog: %v", ErrStorageFailure, err)
	}
	return nil
}

func (s *Store) fail(ctx context.Context, op string, err error) error {
	s.metrics.RecordStorageFailure(ctx, op)
	slog.Error("Catalog operation failed", "op", op, "error", err)
	return err
}

// nextStamp returns a unix-millisecond stamp strictly greater than the last
// one handed out, so two saves in the same millisecond get distinct files.
func (s *Store) nextStamp() int64 {
	stamp := s.now().UnixMilli()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

func pathFromURI(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// FormatDuration renders milliseconds as M:SS, rounding to the nearest second.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := (ms + 500) / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
