package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validation range constants.
const (
	minPort           = 1
	maxPort           = 65535
	minSessionTimeout = 1
	minSecretKeyLen   = 16
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(cfg)...)
	errs = append(errs, validateAuth(cfg)...)
	errs = append(errs, validateTransfers(cfg)...)
	errs = append(errs, validateLogging(cfg)...)

	return errors.Join(errs...)
}

func validateServer(cfg *Config) []error {
	var errs []error

	if strings.TrimSpace(cfg.UploadDir) == "" {
		errs = append(errs, errors.New("UPLOAD_DIR: must not be empty"))
	}

	if cfg.Port < minPort || cfg.Port > maxPort {
		errs = append(errs, fmt.Errorf("PORT: must be between %d and %d, got %d", minPort, maxPort, cfg.Port))
	}

	return errs
}

func validateAuth(cfg *Config) []error {
	var errs []error

	if cfg.SessionTimeout < minSessionTimeout {
		errs = append(errs, fmt.Errorf("SESSION_TIMEOUT: must be at least %d second, got %d",
			minSessionTimeout, cfg.SessionTimeout))
	}

	if cfg.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY: must be set"))
	} else if len(cfg.SecretKey) < minSecretKeyLen {
		errs = append(errs, fmt.Errorf("SECRET_KEY: must be at least %d characters", minSecretKeyLen))
	}

	if len(cfg.Credentials) == 0 {
		errs = append(errs, errors.New("VALID_CREDENTIALS: at least one user is required"))
	}

	for user, pass := range cfg.Credentials {
		if user == "" {
			errs = append(errs, errors.New("VALID_CREDENTIALS: username must not be empty"))
		}

		if pass == "" {
			errs = append(errs, fmt.Errorf("VALID_CREDENTIALS: password for %q must not be empty", user))
		}
	}

	return errs
}

func validateTransfers(cfg *Config) []error {
	var errs []error

	if _, err := ParseSize(cfg.MaxUploadSize); err != nil {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err))
	}

	if _, err := ParseBandwidth(cfg.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("BANDWIDTH_LIMIT: %w", err))
	}

	return errs
}

func validateLogging(cfg *Config) []error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: must be one of debug, info, warn, error; got %q", cfg.LogLevel))
	}

	if !validLogFormats[cfg.LogFormat] {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: must be one of auto, text, json; got %q", cfg.LogFormat))
	}

	return errs
}
