package config

import (
	"fmt"

	"github.com/spf13/viper"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FIELDSYNC")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.type", "file")
	v.SetDefault("store.path", "./data")

	v.SetDefault("remote.timeout", "30s")

	v.SetDefault("sync.entity_types", []string{"customer", "job", "invoice", "inventory_item"})
	v.SetDefault("sync.pull_workers", 4)
	v.SetDefault("sync.manual_timeout", "5m")
	v.SetDefault("sync.default_strategy", "last_write_wins")

	v.SetDefault("connectivity.probe_timeout", "3s")
	v.SetDefault("connectivity.poll_interval", "10s")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "@every 15m")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
