package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/audiolibrelab/pocketrec/internal/observe"
)

// memKV is an in-memory KVStore.
type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	setErr  error
	setHits int
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setHits++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memKV) raw() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[StateKey]
}

// memFiles tracks which paths exist.
type memFiles struct {
	mu        sync.Mutex
	files     map[string]bool
	dirs      map[string]bool
	ensureErr error
	moveErr   error
	deleteErr error
	moves     [][2]string
}

func newMemFiles(paths ...string) *memFiles {
	f := &memFiles{files: make(map[string]bool), dirs: make(map[string]bool)}
	for _, p := range paths {
		f.files[p] = true
	}
	return f
}

func (f *memFiles) EnsureDir(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.dirs[path] = true
	return nil
}

func (f *memFiles) Move(ctx context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, [2]string{from, to})
	if f.moveErr != nil {
		return f.moveErr
	}
	if !f.files[from] {
		return errors.New("no such file: " + from)
	}
	delete(f.files, from)
	f.files[to] = true
	return nil
}

func (f *memFiles) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.files, path)
	return nil
}

func (f *memFiles) exists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[path]
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestStore(t *testing.T, files *memFiles, kv *memKV) *Store {
	t.Helper()
	clock := time.UnixMilli(1700000000000)
	return New(files, kv, Config{
		Directory: "/data/recordings",
		Metrics:   testMetrics(t),
		Now:       func() time.Time { return clock },
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0:00"},
		{65000, "1:05"},
		{600000, "10:00"},
		{999, "0:01"},
		{499, "0:00"},
		{59600, "1:00"},
		{3599999, "60:00"},
		{-20, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestCreate_FirstRecording(t *testing.T) {
	files := newMemFiles("/tmp/capture-1.wav")
	kv := newMemKV()
	store := newTestStore(t, files, kv)

	rec, err := store.Create(context.Background(), "file:///tmp/capture-1.wav", 65000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if rec.Name != "Recording 1" {
		t.Errorf("name = %q, want %q", rec.Name, "Recording 1")
	}
	if rec.Duration != "1:05" {
		t.Errorf("duration = %q, want %q", rec.Duration, "1:05")
	}
	if !strings.HasPrefix(rec.ID, "rec-") {
		t.Errorf("id %q lacks rec- prefix", rec.ID)
	}
	if rec.Location != "/data/recordings/recording-1700000000000.wav" {
		t.Errorf("location = %q", rec.Location)
	}
	if !files.exists(rec.Location) || files.exists("/tmp/capture-1.wav") {
		t.Errorf("file was not relocated: %+v", files.files)
	}
	if !files.dirs["/data/recordings"] {
		t.Errorf("recordings directory was not ensured")
	}

	want := `[{"id":"` + rec.ID + `","name":"Recording 1","uri":"/data/recordings/recording-1700000000000.wav","duration":"1:05"}]`
	if got := kv.raw(); got != want {
		t.Errorf("persisted = %s\nwant %s", got, want)
	}
}

func TestCreate_SameMillisecondGetsDistinctFiles(t *testing.T) {
	files := newMemFiles("/tmp/a.wav", "/tmp/b.wav")
	store := newTestStore(t, files, newMemKV())
	ctx := context.Background()

	a, err := store.Create(ctx, "/tmp/a.wav", 1000)
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := store.Create(ctx, "/tmp/b.wav", 2000)
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if a.Location == b.Location {
		t.Fatalf("both recordings moved to %s", a.Location)
	}
	if b.Name != "Recording 2" {
		t.Errorf("second name = %q", b.Name)
	}
	if a.ID == b.ID {
		t.Errorf("ids collide: %s", a.ID)
	}
}

func TestList_EmptyWhenNoState(t *testing.T) {
	store := newTestStore(t, newMemFiles(), newMemKV())

	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", records)
	}
}

func TestList_CorruptState(t *testing.T) {
	kv := newMemKV()
	kv.data[StateKey] = "{not json"
	store := newTestStore(t, newMemFiles(), kv)

	_, err := store.List(context.Background())
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}

func TestCreate_CorruptStateMovesNothing(t *testing.T) {
	files := newMemFiles("/tmp/a.wav")
	kv := newMemKV()
	kv.data[StateKey] = "[{"
	store := newTestStore(t, files, kv)

	_, err := store.Create(context.Background(), "/tmp/a.wav", 1000)
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
	if len(files.moves) != 0 {
		t.Fatalf("expected no moves, got %v", files.moves)
	}
	if kv.raw() != "[{" {
		t.Fatalf("persisted state changed: %q", kv.raw())
	}
}

func TestRoundTrip(t *testing.T) {
	files := newMemFiles("/tmp/1.wav", "/tmp/2.wav", "/tmp/3.wav")
	store := newTestStore(t, files, newMemKV())
	ctx := context.Background()

	r1, _ := store.Create(ctx, "/tmp/1.wav", 1000)
	r2, _ := store.Create(ctx, "/tmp/2.wav", 2000)
	r3, _ := store.Create(ctx, "/tmp/3.wav", 3000)

	if err := store.Rename(ctx, r2.ID, "Interview"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := store.Delete(ctx, r1.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != r2.ID || records[0].Name != "Interview" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].ID != r3.ID || records[1].Name != "Recording 3" {
		t.Errorf("second record = %+v", records[1])
	}
	if files.exists(r1.Location) {
		t.Errorf("deleted recording file still exists")
	}

	got, ok, err := store.Get(ctx, r3.ID)
	if err != nil || !ok || got.Location != r3.Location {
		t.Errorf("Get(%s) = %+v, %v, %v", r3.ID, got, ok, err)
	}
	if _, ok, _ := store.Get(ctx, "rec-missing"); ok {
		t.Errorf("Get found an unknown id")
	}
}

func TestDelete_Idempotent(t *testing.T) {
	files := newMemFiles("/tmp/1.wav", "/tmp/2.wav")
	kv := newMemKV()
	store := newTestStore(t, files, kv)
	ctx := context.Background()

	r1, _ := store.Create(ctx, "/tmp/1.wav", 1000)
	if _, err := store.Create(ctx, "/tmp/2.wav", 2000); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Delete(ctx, r1.ID); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	once := kv.raw()

	if err := store.Delete(ctx, r1.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if kv.raw() != once {
		t.Fatalf("second delete changed state:\n%s\n%s", once, kv.raw())
	}
}

func TestRenameAndDelete_UnknownIDStillPersists(t *testing.T) {
	kv := newMemKV()
	store := newTestStore(t, newMemFiles(), kv)
	ctx := context.Background()

	if err := store.Rename(ctx, "rec-missing", "x"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := store.Delete(ctx, "rec-missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if kv.setHits != 2 {
		t.Errorf("expected 2 full-list writes, got %d", kv.setHits)
	}
	if kv.raw() != "[]" {
		t.Errorf("persisted = %q, want []", kv.raw())
	}
}

func TestCreate_StorageFailureLeavesCatalogUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		setup func(files *memFiles, kv *memKV)
	}{
		{"directory", func(files *memFiles, kv *memKV) { files.ensureErr = errors.New("read-only filesystem") }},
		{"move", func(files *memFiles, kv *memKV) { files.moveErr = errors.New("cross-device link") }},
		{"write", func(files *memFiles, kv *memKV) { kv.setErr = errors.New("disk full") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := newMemFiles("/tmp/1.wav", "/tmp/2.wav")
			kv := newMemKV()
			store := newTestStore(t, files, kv)
			ctx := context.Background()

			if _, err := store.Create(ctx, "/tmp/1.wav", 1000); err != nil {
				t.Fatalf("seed Create: %v", err)
			}
			before := kv.raw()

			tt.setup(files, kv)
			_, err := store.Create(ctx, "/tmp/2.wav", 2000)
			if !errors.Is(err, ErrStorageFailure) {
				t.Fatalf("expected ErrStorageFailure, got %v", err)
			}

			if after := kv.raw(); after != before {
				t.Fatalf("catalog changed:\nbefore %s\nafter  %s", before, after)
			}
			if tt.name == "write" && !files.exists("/tmp/2.wav") {
				t.Errorf("file was not moved back after failed write")
			}
		})
	}
}

func TestDelete_FileFailureIsStorageFailure(t *testing.T) {
	files := newMemFiles("/tmp/1.wav")
	store := newTestStore(t, files, newMemKV())
	ctx := context.Background()

	rec, _ := store.Create(ctx, "/tmp/1.wav", 1000)
	files.deleteErr = errors.New("permission denied")

	if err := store.Delete(ctx, rec.ID); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
}

func TestList_ReadFailure(t *testing.T) {
	kv := newMemKV()
	kv.getErr = errors.New("connection refused")
	store := newTestStore(t, newMemFiles(), kv)

	if _, err := store.List(context.Background()); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
}
