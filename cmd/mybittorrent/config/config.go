// Package config loads client settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides DefaultPath.
const EnvPath = "MYBITTORRENT_CONFIG"

// Config holds the settings the entry point threads into the tracker client
// and the handshake.
type Config struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	TrackerTimeout   time.Duration `mapstructure:"tracker_timeout"`
	ListenPort       uint16        `mapstructure:"listen_port"`
	PeerIDPrefix     string        `mapstructure:"peer_id_prefix"`
	VerifyInfoHash   bool          `mapstructure:"verify_info_hash"`
	MaxProbes        int           `mapstructure:"max_probes"`
	Debug            bool          `mapstructure:"debug"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HandshakeTimeout: 30 * time.Second,
		DialTimeout:      10 * time.Second,
		TrackerTimeout:   15 * time.Second,
		ListenPort:       6881,
		PeerIDPrefix:     "-MB0001-",
		MaxProbes:        8,
	}
}

// DefaultPath returns $MYBITTORRENT_CONFIG if set, otherwise
// $XDG_CONFIG_HOME/mybittorrent/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return filepath.Join(xdg.ConfigHome, "mybittorrent", "config.yaml")
}

// Load reads the file at path. A missing or empty file yields Default();
// keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := Decode(b, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	return &cfg, nil
}

// Decode overlays the YAML document b onto cfg and validates the result.
func Decode(b []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}

	if len(raw) > 0 {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			Result:           cfg,
		})
		if err != nil {
			return err
		}
		if err := decoder.Decode(raw); err != nil {
			return err
		}
	}

	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial_timeout must be positive")
	}
	if c.TrackerTimeout <= 0 {
		return errors.New("tracker_timeout must be positive")
	}
	if c.ListenPort == 0 {
		return errors.New("listen_port must not be zero")
	}
	if len(c.PeerIDPrefix) > 20 {
		return fmt.Errorf("peer_id_prefix %q is longer than 20 bytes", c.PeerIDPrefix)
	}
	if c.MaxProbes < 1 {
		return errors.New("max_probes must be at least 1")
	}
	return nil
}
