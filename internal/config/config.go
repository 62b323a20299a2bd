// Package config loads corectl's on-disk configuration: etcd
// connection settings, the per-volume capacity limiter, and the
// front-end listen addresses. Loaded from YAML the same way the
// teacher loads its cluster config. The --config flag names the file;
// no flag overrides individual values.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is corectl's top-level configuration document.
type Config struct {
	Etcd          EtcdConfig   `yaml:"etcd"`
	Listen        ListenConfig `yaml:"listen"`
	CreatePermits int64        `yaml:"create_permits"`
	LogLevel      string       `yaml:"log_level"`
	LogJSON       bool         `yaml:"log_json"`
}

// EtcdConfig configures the PSC's etcd backing store.
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	LeaseTTLSec int           `yaml:"lease_ttl_sec"`
}

// ListenConfig configures the front-end listeners.
type ListenConfig struct {
	REST       string `yaml:"rest"`        // HTTP address, e.g. ":8080"
	CSISocket  string `yaml:"csi_socket"`  // unix socket path for the CSI gRPC server
	NodeListen string `yaml:"node_listen"` // address this core listens on for node registration callbacks, informational
}

// Default returns the configuration used when no file is supplied:
// a local single-node etcd and the conventional listen addresses.
func Default() Config {
	return Config{
		Etcd: EtcdConfig{
			Endpoints:   []string{"127.0.0.1:2379"},
			DialTimeout: 5 * time.Second,
			LeaseTTLSec: 10,
		},
		Listen: ListenConfig{
			REST:      ":8080",
			CSISocket: "/run/corectl/csi.sock",
		},
		CreatePermits: 16,
		LogLevel:      "info",
	}
}

// Load reads and parses a YAML config file at path, layering it over
// Default() so a partial file only overrides what it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
