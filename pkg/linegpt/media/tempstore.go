// Package media holds downloaded voice messages while they are transcribed.
//
// Every file is removed by the turn that created it. A robfig/cron sweeper
// removes files left behind by a crash or a killed process.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultMaxFileSize caps a single download.
const DefaultMaxFileSize = 25 << 20

// Config configures a TempStore.
type Config struct {
	// Dir holds the temporary files. Created if missing.
	Dir string

	// MaxAge is the age after which the sweeper deletes a file.
	MaxAge time.Duration

	// SweepSchedule is a cron spec, e.g. "@every 10m". Empty disables the sweeper.
	SweepSchedule string

	// MaxFileSize caps a single file (default 25 MiB).
	MaxFileSize int64
}

// TempStore creates uuid-named files in one directory.
type TempStore struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewTempStore creates the directory and returns the store.
func NewTempStore(cfg Config, logger *slog.Logger) (*TempStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "linegpt")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Minute
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("media: creating temp dir: %w", err)
	}
	return &TempStore{cfg: cfg, logger: logger.With("component", "media")}, nil
}

// Dir returns the directory files are written to.
func (s *TempStore) Dir() string { return s.cfg.Dir }

// Save copies r into a new file named <uuid><ext> and returns its path.
// Payloads larger than MaxFileSize are rejected and nothing is left on disk.
func (s *TempStore) Save(r io.Reader, ext string) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	path := filepath.Join(s.cfg.Dir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("media: creating %s: %w", path, err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.cfg.MaxFileSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.cfg.MaxFileSize {
		err = fmt.Errorf("media: file exceeds %d bytes", s.cfg.MaxFileSize)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Remove deletes a file created by Save. Missing files are not an error.
func (s *TempStore) Remove(path string) error {
	if filepath.Dir(path) != filepath.Clean(s.cfg.Dir) {
		return fmt.Errorf("media: %s is outside %s", path, s.cfg.Dir)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Sweep deletes files older than MaxAge and returns how many were removed.
func (s *TempStore) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("media: reading temp dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < s.cfg.MaxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.Dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// StartSweeper schedules Sweep on SweepSchedule until ctx is done or Stop
// is called.
func (s *TempStore) StartSweeper(ctx context.Context) error {
	if s.cfg.SweepSchedule == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		n, err := s.Sweep(time.Now())
		if err != nil {
			s.logger.Warn("temp sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("removed stale temp files", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("media: invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}

	c.Start()
	s.cron = c

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the sweeper and waits for a running sweep to finish.
func (s *TempStore) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
