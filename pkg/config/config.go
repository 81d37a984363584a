// Package config loads the optional vfsxfer configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"digital.vasic.vfs/pkg/client"
)

// Config represents the vfsxfer configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	// Storage maps a storage name to its table. The "protocol" key selects
	// the backend; every other key becomes a client setting.
	Storage map[string]map[string]interface{} `toml:"storage"`
}

// DefaultsConfig holds persistent flag defaults. Nil fields are unset.
type DefaultsConfig struct {
	Overwrite        *string `toml:"overwrite"`
	Errors           *string `toml:"errors"`
	FollowSymlinks   *bool   `toml:"follow_symlinks"`
	Verify           *bool   `toml:"verify"`
	ProgressInterval *string `toml:"progress_interval"`
	BlockSize        *string `toml:"block_size"`
	BWLimit          *string `toml:"bwlimit"`
	Verbose          *bool   `toml:"verbose"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "vfsxfer", "config.toml")
}

// Load reads the config file from the XDG path. A missing file yields a
// zero Config.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file yields a zero
// Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	for name := range cfg.Storage {
		if _, err := cfg.StorageConfig(name); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// StorageNames returns the configured storage names in sorted order.
func (c Config) StorageNames() []string {
	names := make([]string, 0, len(c.Storage))
	for name := range c.Storage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StorageConfig converts the named storage table into a client
// configuration.
func (c Config) StorageConfig(name string) (*client.StorageConfig, error) {
	table, ok := c.Storage[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage %q", name)
	}
	protocol, _ := table["protocol"].(string)
	if protocol == "" {
		return nil, fmt.Errorf("storage %q has no protocol", name)
	}

	settings := make(map[string]interface{}, len(table))
	for k, v := range table {
		if k == "protocol" {
			continue
		}
		settings[k] = v
	}
	return &client.StorageConfig{
		ID:       name,
		Name:     name,
		Protocol: protocol,
		Enabled:  true,
		Settings: settings,
	}, nil
}

// Resolve maps a "name:/path" address onto a configured storage. ok is
// false when addr does not name a configured storage, including URLs.
func (c Config) Resolve(addr string) (cfg *client.StorageConfig, path string, ok bool, err error) {
	if strings.Contains(addr, "://") {
		return nil, "", false, nil
	}
	name, rest, found := strings.Cut(addr, ":")
	if !found {
		return nil, "", false, nil
	}
	if _, known := c.Storage[name]; !known {
		return nil, "", false, nil
	}
	cfg, err = c.StorageConfig(name)
	if err != nil {
		return nil, "", true, err
	}
	if rest == "" {
		rest = "/"
	}
	return cfg, rest, true, nil
}

// ParseSize parses a byte count with an optional B, K, M, G or T suffix
// in powers of 1024.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multiplier := int64(1)
	numStr := s
	switch strings.ToUpper(s[len(s)-1:]) {
	case "B":
		numStr = s[:len(s)-1]
	case "K":
		multiplier = 1 << 10
		numStr = s[:len(s)-1]
	case "M":
		multiplier = 1 << 20
		numStr = s[:len(s)-1]
	case "G":
		multiplier = 1 << 30
		numStr = s[:len(s)-1]
	case "T":
		multiplier = 1 << 40
		numStr = s[:len(s)-1]
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	if n, err := strconv.ParseInt(numStr, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size: %q", s)
		}
		return n * multiplier, nil
	}
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	return int64(f * float64(multiplier)), nil
}
