package model

import "time"

type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Device  DeviceConfig  `yaml:"device"`
	Logging LoggingConfig `yaml:"logging"`
	History HistoryConfig `yaml:"history"`
}

type DaemonConfig struct {
	PollIntervalMs      int    `yaml:"poll_interval_ms"`       // Sleep between scheduling cycles (default 10000)
	GracePollIntervalMs int    `yaml:"grace_poll_interval_ms"` // Liveness poll while waiting out a grace period (default 500)
	Shell               string `yaml:"shell"`                  // Shell used to run task command lines (default bash)
}

type DeviceConfig struct {
	// ID selects the device queried for occupancy. Empty means the queue name.
	ID string `yaml:"id"`
	// QueryCommand lists PIDs on the device, one per line. "{device}" is
	// replaced with the device ID. Empty disables occupancy checks.
	QueryCommand string `yaml:"query_command"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
}

const DefaultQueryCommand = "nvidia-smi --query-compute-apps=pid --format=csv,noheader,nounits -i {device}"

// DefaultConfig returns the configuration used when config.yaml is absent.
// Values read from config.yaml are unmarshalled over these.
func DefaultConfig() Config {
	return Config{
		Daemon: DaemonConfig{
			PollIntervalMs:      10000,
			GracePollIntervalMs: 500,
			Shell:               "bash",
		},
		Device: DeviceConfig{
			QueryCommand: DefaultQueryCommand,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

func (c DaemonConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c DaemonConfig) GracePollInterval() time.Duration {
	if c.GracePollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.GracePollIntervalMs) * time.Millisecond
}

func (c DaemonConfig) ShellOrDefault() string {
	if c.Shell == "" {
		return "bash"
	}
	return c.Shell
}

// DeviceFor returns the device ID used for the given queue.
func (c DeviceConfig) DeviceFor(queue string) string {
	if c.ID != "" {
		return c.ID
	}
	return queue
}
