package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "FILEVAULT_CONFIG"
	EnvUploadDir = "FILEVAULT_UPLOAD_DIR"
	EnvPort      = "FILEVAULT_PORT"
	EnvSecretKey = "FILEVAULT_SECRET_KEY"
	EnvLogLevel  = "FILEVAULT_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables. Empty
// fields mean "not set".
type EnvOverrides struct {
	ConfigPath string // FILEVAULT_CONFIG: override config file path
	UploadDir  string // FILEVAULT_UPLOAD_DIR: vault root override
	Port       string // FILEVAULT_PORT: listen port override
	SecretKey  string // FILEVAULT_SECRET_KEY: cookie signing key
	LogLevel   string // FILEVAULT_LOG_LEVEL: log level override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify a Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		UploadDir:  os.Getenv(EnvUploadDir),
		Port:       os.Getenv(EnvPort),
		SecretKey:  os.Getenv(EnvSecretKey),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
