package config

import (
	"time"
)

type Config struct {
	Store        StoreConfig        `mapstructure:"store"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type StoreConfig struct {
	// Type selects the durable store backend: "file", "sqlite" or "mysql".
	Type string `mapstructure:"type"`

	// Path is the data directory for the file store, or the database file
	// for the sqlite store.
	Path string `mapstructure:"path"`

	MySQL MySQLConfig `mapstructure:"mysql"`
}

type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type RemoteConfig struct {
	// Endpoint is the remote sync endpoint. Empty means the loopback stub
	// is used (standalone / development mode).
	Endpoint string `mapstructure:"endpoint"`
	Timeout  string `mapstructure:"timeout"`
}

func (r RemoteConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type SyncConfig struct {
	// EntityTypes lists the entity types pulled from the remote. The pull
	// phase fans out over these.
	EntityTypes []string `mapstructure:"entity_types"`

	// PullWorkers bounds pull-phase parallelism.
	PullWorkers int `mapstructure:"pull_workers"`

	// ManualTimeout bounds how long a Manual resolution waits for a
	// decision before defaulting to server-wins.
	ManualTimeout string `mapstructure:"manual_timeout"`

	// DefaultStrategy is used by scheduled syncs: "server_wins",
	// "client_wins", "last_write_wins", "merge" or "manual".
	DefaultStrategy string `mapstructure:"default_strategy"`
}

func (s SyncConfig) GetManualTimeout() time.Duration {
	d, err := time.ParseDuration(s.ManualTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

type ConnectivityConfig struct {
	// ProbeAddress is the host:port dialed to decide reachability. Empty
	// disables the monitor (the engine assumes online).
	ProbeAddress string `mapstructure:"probe_address"`
	ProbeTimeout string `mapstructure:"probe_timeout"`
	PollInterval string `mapstructure:"poll_interval"`
}

func (c ConnectivityConfig) GetProbeTimeout() time.Duration {
	d, err := time.ParseDuration(c.ProbeTimeout)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}

func (c ConnectivityConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
