package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileKV_GetMissing(t *testing.T) {
	kv := NewFileKV(filepath.Join(t.TempDir(), "state.yaml"))

	v, ok, err := kv.Get(context.Background(), "recordings")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || v != "" {
		t.Fatalf("expected missing key, got %q, %v", v, ok)
	}
}

func TestFileKV_SetThenGet(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	kv := NewFileKV(path)

	value := `[{"id":"rec-1","name":"Recording 1","uri":"/r/1.wav","duration":"0:01"}]`
	if err := kv.Set(ctx, "recordings", value); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "other", "x"); err != nil {
		t.Fatalf("Set other: %v", err)
	}

	// A fresh instance reads what the first one wrote
	got, ok, err := NewFileKV(path).Get(ctx, "recordings")
	if err != nil || !ok {
		t.Fatalf("Get: %q, %v, %v", got, ok, err)
	}
	if got != value {
		t.Errorf("value = %q, want %q", got, value)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".state-") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestFileKV_UnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("recordings: [unterminated"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, _, err := NewFileKV(path).Get(context.Background(), "recordings"); err == nil {
		t.Fatal("expected parse error")
	}
}
