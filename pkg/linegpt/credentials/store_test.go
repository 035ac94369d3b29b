package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// storeFactories builds every backend that runs without external services,
// plus mongo when a test server is configured.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()

	factories := map[string]func() Store{
		"file": func() Store {
			return NewFileStore(filepath.Join(dir, "db.json"), nil)
		},
		"vault": func() Store {
			v, err := OpenVault(filepath.Join(dir, "test.vault"), "correct-password", nil)
			if err != nil {
				t.Fatalf("OpenVault() error = %v", err)
			}
			return v
		},
		"sqlite": func() Store {
			s, err := OpenSQLite(filepath.Join(dir, "data", "linegpt.db"), nil)
			if err != nil {
				t.Fatalf("OpenSQLite() error = %v", err)
			}
			return s
		},
	}

	// Set LINEGPT_TEST_MONGO_URI to run the same cases against a live server.
	if uri := os.Getenv("LINEGPT_TEST_MONGO_URI"); uri != "" {
		database := fmt.Sprintf("linegpt_test_%d", time.Now().UnixNano())
		t.Cleanup(func() {
			s, err := OpenMongo(context.Background(), uri, database, nil)
			if err != nil {
				return
			}
			defer s.Close()
			_ = s.client.Database(database).Drop(context.Background())
		})
		factories["mongo"] = func() Store {
			s, err := OpenMongo(context.Background(), uri, database, nil)
			if err != nil {
				t.Fatalf("OpenMongo() error = %v", err)
			}
			return s
		}
	}
	return factories
}

func TestStore_LoadEmpty(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			defer s.Close()

			_, err := s.Load(context.Background())
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load() error = %v, want ErrNotFound", err)
			}

			data, err := LoadOrEmpty(context.Background(), s)
			if err != nil {
				t.Fatalf("LoadOrEmpty() error = %v", err)
			}
			if len(data) != 0 {
				t.Errorf("LoadOrEmpty() = %v, want empty", data)
			}
		})
	}
}

func TestStore_SaveMerges(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()
			defer s.Close()

			if err := s.Save(ctx, map[string]string{"U1": "sk-one"}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if err := s.Save(ctx, map[string]string{"U2": "sk-two", "C1": "sk-one"}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			// Re-registration replaces the token.
			if err := s.Save(ctx, map[string]string{"U1": "sk-new"}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			want := map[string]string{"U1": "sk-new", "U2": "sk-two", "C1": "sk-one"}
			if len(got) != len(want) {
				t.Fatalf("Load() = %v, want %v", got, want)
			}
			for id, token := range want {
				if got[id] != token {
					t.Errorf("Load()[%s] = %q, want %q", id, got[id], token)
				}
			}
		})
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.json")
	ctx := context.Background()

	if err := NewFileStore(path, nil).Save(ctx, map[string]string{"U1": "sk-one"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := NewFileStore(path, nil).Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got["U1"] != "sk-one" {
		t.Errorf("Load()[U1] = %q, want %q", got["U1"], "sk-one")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %04o, want 0600", perm)
	}
}

func TestVault_EncryptsAndChecksPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.vault")
	ctx := context.Background()

	v, err := OpenVault(path, "correct-password", nil)
	if err != nil {
		t.Fatalf("OpenVault() error = %v", err)
	}
	if err := v.Save(ctx, map[string]string{"U1": "sk-secret-token"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	v.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sk-secret-token") {
		t.Error("vault file contains the plaintext token")
	}

	if _, err := OpenVault(path, "wrong-password", nil); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("OpenVault(wrong) error = %v, want ErrWrongPassword", err)
	}

	reopened, err := OpenVault(path, "correct-password", nil)
	if err != nil {
		t.Fatalf("OpenVault() error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got["U1"] != "sk-secret-token" {
		t.Errorf("Load()[U1] = %q", got["U1"])
	}
	if _, ok := got[verifyEntry]; ok {
		t.Error("Load() must not expose the verify entry")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "redis" }, true},
		{"mongo without uri", func(c *Config) { c.Backend = BackendMongo }, true},
		{"mongo with uri", func(c *Config) {
			c.Backend = BackendMongo
			c.MongoURI = "mongodb://localhost:27017"
		}, false},
		{"file without path", func(c *Config) { c.Path = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
