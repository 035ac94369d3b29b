// vault.go stores the credential mapping encrypted at rest using AES-256-GCM
// with Argon2id key derivation. The master password is never stored; only the
// derived key lives in memory while the store is open.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/term"
)

const (
	// Argon2id parameters (OWASP recommended).
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	saltLen = 16

	// verifyEntry holds a known plaintext used to detect a wrong password.
	verifyEntry = "__verify__"
	verifyText  = "linegpt-vault-ok"
)

// ErrWrongPassword is returned when the vault cannot be decrypted.
var ErrWrongPassword = errors.New("credentials: wrong vault password")

// vaultEntry holds one encrypted token.
type vaultEntry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// vaultFile is the on-disk format.
type vaultFile struct {
	Version int                   `json:"version"`
	Salt    string                `json:"salt"`
	Entries map[string]vaultEntry `json:"entries"`
}

// VaultStore is a Store whose file content is encrypted.
type VaultStore struct {
	path   string
	key    []byte
	data   *vaultFile
	logger *slog.Logger
	mu     sync.Mutex
}

// OpenVault unlocks the vault at path with password. A missing file is not an
// error: a new salt is generated and the file is written on the first Save.
func OpenVault(path, password string, logger *slog.Logger) (*VaultStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if password == "" {
		return nil, fmt.Errorf("credentials: vault password is required")
	}

	v := &VaultStore{path: path, logger: logger}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("credentials: generating salt: %w", err)
		}
		v.key = deriveKey(password, salt)
		v.data = &vaultFile{
			Version: 1,
			Salt:    base64.StdEncoding.EncodeToString(salt),
			Entries: make(map[string]vaultEntry),
		}
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: reading vault: %w", err)
	}

	var data vaultFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("credentials: parsing vault: %w", err)
	}
	if data.Entries == nil {
		data.Entries = make(map[string]vaultEntry)
	}

	salt, err := base64.StdEncoding.DecodeString(data.Salt)
	if err != nil {
		return nil, fmt.Errorf("credentials: decoding salt: %w", err)
	}

	key := deriveKey(password, salt)
	if verify, ok := data.Entries[verifyEntry]; ok {
		if _, err := decryptEntry(key, verify); err != nil {
			return nil, ErrWrongPassword
		}
	}

	v.key = key
	v.data = &data
	return v, nil
}

// Load decrypts every stored token.
func (v *VaultStore) Load(_ context.Context) (map[string]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return nil, fmt.Errorf("credentials: vault is closed")
	}
	if _, err := os.Stat(v.path); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	out := make(map[string]string, len(v.data.Entries))
	for id, entry := range v.data.Entries {
		if id == verifyEntry {
			continue
		}
		plaintext, err := decryptEntry(v.key, entry)
		if err != nil {
			return nil, fmt.Errorf("credentials: decrypting %s: %w", id, err)
		}
		out[id] = string(plaintext)
	}
	return out, nil
}

// Save encrypts and merges partial, then rewrites the vault file atomically.
func (v *VaultStore) Save(_ context.Context, partial map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return fmt.Errorf("credentials: vault is closed")
	}

	// Encrypt into a copy so a failure leaves the in-memory state untouched.
	entries := make(map[string]vaultEntry, len(v.data.Entries)+len(partial)+1)
	for id, e := range v.data.Entries {
		entries[id] = e
	}
	for id, token := range partial {
		e, err := encryptEntry(v.key, []byte(token))
		if err != nil {
			return fmt.Errorf("credentials: encrypting %s: %w", id, err)
		}
		entries[id] = e
	}
	if _, ok := entries[verifyEntry]; !ok {
		e, err := encryptEntry(v.key, []byte(verifyText))
		if err != nil {
			return fmt.Errorf("credentials: encrypting verify entry: %w", err)
		}
		entries[verifyEntry] = e
	}

	next := &vaultFile{Version: v.data.Version, Salt: v.data.Salt, Entries: entries}
	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: marshaling vault: %w", err)
	}
	if err := writeFileAtomic(v.path, raw); err != nil {
		return err
	}

	v.data = next
	v.logger.Debug("vault saved", "path", v.path, "identities", len(partial))
	return nil
}

// Close zeroes the derived key.
func (v *VaultStore) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
	return nil
}

// deriveKey uses Argon2id to derive a 32-byte AES key from a password and salt.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func encryptEntry(key, plaintext []byte) (vaultEntry, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return vaultEntry{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return vaultEntry{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return vaultEntry{}, err
	}

	return vaultEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

func decryptEntry(key []byte, entry vaultEntry) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

// ReadPassword reads a password from the terminal without echoing.
// Falls back to a plain stdin read when stdin is not a terminal.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(password), nil
	}

	var buf [1024]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(string(buf[:n]), "\r\n"), nil
}
