// Package credentials persists the identity → API token mapping that lets the
// bot rebuild its model clients after a restart. Conversation content is never
// stored here.
//
// Backends:
//   - file:   plain JSON document (db.json)
//   - vault:  JSON document encrypted with AES-256-GCM + Argon2id
//   - sqlite: one table in a local SQLite database
//   - mongo:  one document in a MongoDB collection
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrNotFound is returned by Load when no credentials were ever saved.
// Callers treat it as an empty mapping.
var ErrNotFound = errors.New("credentials: no stored data")

// Store reads and merges the persisted credential mapping.
type Store interface {
	// Load returns every stored identity → token pair.
	Load(ctx context.Context) (map[string]string, error)

	// Save merges the given pairs into the stored mapping. Each call is atomic:
	// either every pair is persisted or none is.
	Save(ctx context.Context, partial map[string]string) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted in Config.Backend.
const (
	BackendFile   = "file"
	BackendVault  = "vault"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of file, vault, sqlite, mongo.
	Backend string `yaml:"backend"`

	// Path is the JSON file used by the file backend.
	Path string `yaml:"path"`

	// VaultPath is the encrypted file used by the vault backend.
	VaultPath string `yaml:"vault_path"`

	// VaultPassword unlocks the vault. Empty means prompt on the terminal.
	VaultPassword string `yaml:"vault_password"`

	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// MongoURI is the connection string used by the mongo backend.
	MongoURI string `yaml:"mongo_uri"`

	// MongoDatabase is the database holding the credentials collection.
	MongoDatabase string `yaml:"mongo_database"`
}

// DefaultConfig keeps tokens in db.json in the working directory.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendFile,
		Path:          "db.json",
		VaultPath:     "linegpt.vault",
		SQLitePath:    "./data/linegpt.db",
		MongoDatabase: "linegpt",
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if c.Path == "" {
			return fmt.Errorf("credentials: file backend requires path")
		}
	case BackendVault:
		if c.VaultPath == "" {
			return fmt.Errorf("credentials: vault backend requires vault_path")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("credentials: sqlite backend requires sqlite_path")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("credentials: mongo backend requires mongo_uri")
		}
	default:
		return fmt.Errorf("credentials: unknown backend %q", c.Backend)
	}
	return nil
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger = logger.With("component", "credentials", "backend", cfg.Backend)

	switch cfg.Backend {
	case BackendVault:
		password := cfg.VaultPassword
		if password == "" {
			password = os.Getenv("LINEGPT_VAULT_PASSWORD")
		}
		if password == "" {
			p, err := ReadPassword("Credential vault password: ")
			if err != nil {
				return nil, err
			}
			password = p
		}
		return OpenVault(cfg.VaultPath, password, logger)
	case BackendSQLite:
		return OpenSQLite(cfg.SQLitePath, logger)
	case BackendMongo:
		return OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
	default:
		return NewFileStore(cfg.Path, logger), nil
	}
}

// LoadOrEmpty calls Load and maps ErrNotFound to an empty mapping.
func LoadOrEmpty(ctx context.Context, s Store) (map[string]string, error) {
	data, err := s.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
