package copilot

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/linegpt/pkg/linegpt/credentials"
)

// envRef matches ${NAME} and $NAME inside config values.
var envRef = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// configCandidates are tried in order when no --config flag is given.
var configCandidates = []string{
	"config.yaml",
	"config.yml",
	"linegpt.yaml",
	"linegpt.yml",
	filepath.Join("configs", "config.yaml"),
	filepath.Join("configs", "linegpt.yaml"),
}

// LoadConfigFromFile reads path after loading .env files. Env references in
// the YAML are expanded before parsing; the well-known variables are then
// overlaid on the result.
func LoadConfigFromFile(path string) (*Config, error) {
	loadDotEnv()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := ParseConfig([]byte(expandEnvRefs(string(raw))))
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	warnIfReadable(path)
	return cfg, nil
}

// LoadConfigFromEnv is used when no config file exists: defaults plus the
// environment.
func LoadConfigFromEnv() *Config {
	loadDotEnv()
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// ParseConfig overlays YAML on DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg with mode 0600. A secret that equals its
// environment variable is written as a ${VAR} reference instead, and the
// vault password is never written.
func SaveConfigToFile(cfg *Config, path string) error {
	out := *cfg
	out.Channels.LINE.ChannelSecret = asEnvRef(cfg.Channels.LINE.ChannelSecret, "LINE_CHANNEL_SECRET")
	out.Channels.LINE.ChannelAccessToken = asEnvRef(cfg.Channels.LINE.ChannelAccessToken, "LINE_CHANNEL_ACCESS_TOKEN")
	out.Channels.Discord.Token = asEnvRef(cfg.Channels.Discord.Token, "DISCORD_BOT_TOKEN")
	out.Credentials.VaultPassword = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// FindConfigFile returns the first existing candidate, or "".
func FindConfigFile() string {
	for _, path := range configCandidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// loadDotEnv never overrides variables already set in the process.
func loadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// expandEnvRefs substitutes set variables and leaves unset references as
// they are, so SaveConfigToFile can round-trip them.
func expandEnvRefs(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		groups := envRef.FindStringSubmatch(ref)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return ref
	})
}

// applyEnvOverrides applies the bot's environment variables. A non-empty
// variable wins over the file value.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&cfg.Memory.SystemMessage, "SYSTEM_MESSAGE")
	setString(&cfg.Model.Engine, "OPENAI_MODEL_ENGINE")
	setString(&cfg.Model.BaseURL, "OPENAI_BASE_URL")

	setString(&cfg.Channels.LINE.ChannelSecret, "LINE_CHANNEL_SECRET")
	setString(&cfg.Channels.LINE.ChannelAccessToken, "LINE_CHANNEL_ACCESS_TOKEN")
	setString(&cfg.Channels.Discord.Token, "DISCORD_BOT_TOKEN")

	if os.Getenv("USE_MONGO") != "" {
		cfg.Credentials.Backend = credentials.BackendMongo
	}
	setString(&cfg.Credentials.MongoURI, "MONGODB_URI")
	setString(&cfg.Credentials.MongoDatabase, "MONGODB_DATABASE")

	setString(&cfg.Summary.YouTube.System, "YOUTUBE_SYSTEM_MESSAGE")
	setString(&cfg.Summary.Bilibili.System, "BILIBILI_SYSTEM_MESSAGE")
	setString(&cfg.Summary.Website.System, "WEBSITE_SYSTEM_MESSAGE")

	// The format variables apply to every platform.
	for _, t := range []*SummaryTemplates{&cfg.Summary.YouTube, &cfg.Summary.Bilibili, &cfg.Summary.Website} {
		setString(&t.Part, "PART_MESSAGE_FORMAT")
		setString(&t.Whole, "WHOLE_MESSAGE_FORMAT")
		setString(&t.Single, "SINGLE_MESSAGE_FORMAT")
	}

	if port := os.Getenv("PORT"); port != "" {
		host, _, err := net.SplitHostPort(cfg.Gateway.Address)
		if err != nil || host == "" {
			host = "0.0.0.0"
		}
		cfg.Gateway.Address = net.JoinHostPort(host, port)
	}

	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func asEnvRef(value, envVar string) string {
	if value != "" && !IsEnvReference(value) && os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// IsEnvReference reports whether s is a $VAR or ${VAR} reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

func warnIfReadable(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o044 != 0 {
		slog.Warn("config file is readable by other users",
			"path", path, "mode", fmt.Sprintf("%04o", perm), "want", "0600")
	}
}
