package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNoConfig is returned by Load when the config file does not exist.
// Callers use it to decide whether to run first-run setup.
var ErrNoConfig = errors.New("config file not found")

const (
	keySessionTimeout = "SESSION_TIMEOUT"
	secondsPerMinute  = 60
	tomlExtension     = ".toml"
)

// Load reads and parses a config file. Unknown keys are fatal errors with
// "did you mean?" suggestions. Load does not validate: environment and CLI
// overrides may still supply required values, so Resolve validates the
// merged result.
func Load(path string, logger *slog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoConfig, path)
	}

	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	var defined map[string]bool

	if strings.EqualFold(filepath.Ext(path), tomlExtension) {
		defined, err = decodeTOML(data, cfg)
	} else {
		defined, err = decodeJSON(data, cfg)
	}

	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyLegacyTimeout(cfg, defined)

	logger.Debug("config file loaded",
		slog.String("path", path),
		slog.Int("keys", len(defined)),
	)

	return cfg, nil
}

func decodeJSON(data []byte, cfg *Config) (map[string]bool, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}

	if err := checkUnknownKeys(keys); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return keySet(keys), nil
}

func decodeTOML(data []byte, cfg *Config) (map[string]bool, error) {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, err
	}

	undecoded := make([]string, 0, len(md.Undecoded()))
	for _, key := range md.Undecoded() {
		undecoded = append(undecoded, key[0])
	}

	if err := checkUnknownKeys(undecoded); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(md.Keys()))
	for _, key := range md.Keys() {
		keys = append(keys, key[0])
	}

	return keySet(keys), nil
}

func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}

	return set
}

// applyLegacyTimeout honours SESSION_TIMEOUT_MINUTES from older config files
// when SESSION_TIMEOUT is not present.
func applyLegacyTimeout(cfg *Config, defined map[string]bool) {
	if defined[keySessionTimeout] || cfg.SessionTimeoutMinutes <= 0 {
		return
	}

	cfg.SessionTimeout = cfg.SessionTimeoutMinutes * secondsPerMinute
}

// ResolveConfigPath picks the config file path: CLI > env > default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigFile
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags. The result
// is validated and UploadDir is made absolute.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	path := ResolveConfigPath(env, cli)

	cfg, err := Load(path, logger)
	if err != nil {
		return nil, err
	}

	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	applyCLI(cfg, cli)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	abs, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolving UPLOAD_DIR: %w", err)
	}

	cfg.UploadDir = abs

	return cfg, nil
}

func applyEnv(cfg *Config, env EnvOverrides) error {
	if env.UploadDir != "" {
		cfg.UploadDir = env.UploadDir
	}

	if env.Port != "" {
		port, err := strconv.Atoi(env.Port)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q: %w", EnvPort, env.Port, err)
		}

		cfg.Port = port
	}

	if env.SecretKey != "" {
		cfg.SecretKey = env.SecretKey
	}

	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}

	return nil
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.UploadDir != nil {
		cfg.UploadDir = *cli.UploadDir
	}

	if cli.Host != nil {
		cfg.Host = *cli.Host
	}

	if cli.Port != nil {
		cfg.Port = *cli.Port
	}
}
