package copilot

import (
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"
)

// Channel secrets may live in the OS keyring (Secret Service, Keychain or
// Credential Manager) under this service name. A keyring entry wins over the
// environment, which wins over config.yaml.
const keyringService = "linegpt"

// Keyring entry names.
const (
	KeyringLineSecret   = "line_channel_secret"
	KeyringLineToken    = "line_channel_access_token"
	KeyringDiscordToken = "discord_bot_token"
)

// StoreKeyring saves value under key.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring returns the value under key, or "" when it is missing or the
// keyring cannot be reached.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("keyring lookup failed", "key", key, "error", err)
		}
		return ""
	}
	return val
}

// DeleteKeyring removes key. Removing a missing key is not an error.
func DeleteKeyring(key string) error {
	if err := keyring.Delete(keyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// KeyringAvailable probes the keyring with a throwaway entry.
func KeyringAvailable() bool {
	const probe = "__linegpt_probe__"
	if err := keyring.Set(keyringService, probe, "1"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// ResolveSecrets overwrites channel secrets with keyring values where those
// exist. Unresolved ${VAR} placeholders are cleared.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	for key, dst := range map[string]*string{
		KeyringLineSecret:   &cfg.Channels.LINE.ChannelSecret,
		KeyringLineToken:    &cfg.Channels.LINE.ChannelAccessToken,
		KeyringDiscordToken: &cfg.Channels.Discord.Token,
	} {
		if val := GetKeyring(key); val != "" {
			*dst = val
			logger.Debug("secret loaded from keyring", "key", key)
		} else if IsEnvReference(*dst) {
			*dst = ""
		}
	}

	if cfg.Channels.LINE.ChannelSecret == "" || cfg.Channels.LINE.ChannelAccessToken == "" {
		logger.Warn("LINE credentials missing; run: linegpt secret set line-secret && linegpt secret set line-token")
	}
}
