package config

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	DefaultConfigFile = "config.json"

	defaultUploadDir      = "files"
	defaultHost           = "0.0.0.0"
	defaultPort           = 8000
	defaultSessionTimeout = 30 * 60 // seconds
	defaultMaxUploadSize  = "0"
	defaultBandwidthLimit = "0"
	defaultWatchEvents    = true
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for decoding so that unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		UploadDir:      defaultUploadDir,
		Host:           defaultHost,
		Port:           defaultPort,
		SessionTimeout: defaultSessionTimeout,
		Credentials:    map[string]string{},
		MaxUploadSize:  defaultMaxUploadSize,
		BandwidthLimit: defaultBandwidthLimit,
		WatchEvents:    defaultWatchEvents,
		LogLevel:       defaultLogLevel,
		LogFormat:      defaultLogFormat,
	}
}
