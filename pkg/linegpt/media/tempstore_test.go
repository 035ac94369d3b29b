package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T, cfg Config) *TempStore {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	s, err := NewTempStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewTempStore() error: %v", err)
	}
	return s
}

func TestTempStore_SaveAndRemove(t *testing.T) {
	s := newTestStore(t, Config{})

	path, err := s.Save(strings.NewReader("voice"), "m4a")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if filepath.Ext(path) != ".m4a" {
		t.Errorf("Save() path = %q, want .m4a extension", path)
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "voice" {
		t.Fatalf("ReadFile() = %q, %v; want voice", data, err)
	}

	other, _ := s.Save(strings.NewReader("x"), ".m4a")
	if other == path {
		t.Error("two saves produced the same path")
	}

	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after Remove: %v", err)
	}
	if err := s.Remove(path); err != nil {
		t.Errorf("second Remove() error = %v, want nil", err)
	}
}

func TestTempStore_RemoveOutsideDir(t *testing.T) {
	s := newTestStore(t, Config{})
	outside := filepath.Join(t.TempDir(), "keep.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(outside); err == nil {
		t.Error("Remove() outside the store dir should fail")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("outside file was touched: %v", err)
	}
}

func TestTempStore_SaveTooLarge(t *testing.T) {
	s := newTestStore(t, Config{MaxFileSize: 4})

	if _, err := s.Save(strings.NewReader("12345"), ".m4a"); err == nil {
		t.Fatal("Save() of oversized payload should fail")
	}

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Errorf("oversized save left %d files behind", len(entries))
	}
}

func TestTempStore_Sweep(t *testing.T) {
	s := newTestStore(t, Config{MaxAge: time.Minute})

	old, _ := s.Save(strings.NewReader("old"), ".m4a")
	fresh, _ := s.Save(strings.NewReader("fresh"), ".m4a")

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	n, err := s.Sweep(time.Now())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old file survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file removed: %v", err)
	}
}

func TestTempStore_StartSweeper(t *testing.T) {
	s := newTestStore(t, Config{SweepSchedule: "not a schedule"})
	if err := s.StartSweeper(context.Background()); err == nil {
		t.Error("StartSweeper() with bad schedule should fail")
	}

	s = newTestStore(t, Config{SweepSchedule: "@every 1h"})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.StartSweeper(ctx); err != nil {
		t.Fatalf("StartSweeper() error: %v", err)
	}
	cancel()
	s.Stop()
}
