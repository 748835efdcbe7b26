package cleanup

import "time"

// Config controls how aggressively the cleanup service reaps
// downloaded files from disk.
type Config struct {
	// The directory the service watches and sweeps. This should be the
	// same directory the transcode service writes final artifacts to.
	WatchPath string

	// How long an artifact is retained on disk after creation.
	FileTTLSeconds int `yaml:"file_ttl" env:"CLEANUP_FILE_TTL" env-default:"3600"`

	// How often the periodic sweep runs, irrespective of the per-artifact
	// expiry timers.
	SweepIntervalSeconds int `yaml:"sweep_interval" env:"CLEANUP_SWEEP_INTERVAL" env-default:"3600"`

	// Files in the watch directory with no matching artifact row and a
	// modtime older than this are considered abandoned intermediates
	// and are removed by the sweep.
	StaleThresholdSeconds int `yaml:"stale_threshold" env:"CLEANUP_STALE_THRESHOLD" env-default:"7200"`
}

func (config *Config) FileTTLDuration() time.Duration {
	return time.Duration(config.FileTTLSeconds) * time.Second
}

func (config *Config) SweepIntervalDuration() time.Duration {
	return time.Duration(config.SweepIntervalSeconds) * time.Second
}

func (config *Config) StaleThresholdDuration() time.Duration {
	return time.Duration(config.StaleThresholdSeconds) * time.Second
}
