// Package config loads node configuration from environment variables,
// a YAML file, and built-in defaults, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigPath is where Load looks when configPath is empty.
const DefaultConfigPath = "dim.yaml"

// Config holds every setting a dim-node or dim-rendezvous process needs.
type Config struct {
	// ListenAddr is the local UDP address the node's socket binds to.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// Identifier is this node's DMTP identifier, used in HI/SIGN
	// exchanges and as the contact directory key.
	Identifier string `mapstructure:"identifier" yaml:"identifier"`

	// StunServer is the STUN server used for public endpoint discovery.
	StunServer string `mapstructure:"stun_server" yaml:"stun_server"`

	// TurnServer is the TURN relay server address. It is loaded but not
	// read by dim-node or dim-rendezvous; nothing falls back to a relay.
	TurnServer string `mapstructure:"turn_server" yaml:"turn_server"`

	// RendezvousURL is the WebSocket endpoint of a pkg/rendezvous
	// server used to register and query locations out-of-band.
	RendezvousURL string `mapstructure:"rendezvous_url" yaml:"rendezvous_url"`

	// RealmID partitions the rendezvous contact directory; nodes only
	// see locations registered under the same realm.
	RealmID string `mapstructure:"realm_id" yaml:"realm_id"`

	// SigningKey authenticates this node's location records. It never
	// leaves the process and should be provisioned out-of-band.
	SigningKey string `mapstructure:"signing_key" yaml:"signing_key"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// EnablePunch is loaded (default true) but not read: dim-node's
	// connect command attempts UDP hole punching whatever its value.
	EnablePunch bool `mapstructure:"enable_punch" yaml:"enable_punch"`
}

// Load reads configuration from the given file path, falling back to
// DefaultConfigPath if configPath is empty. Environment variables
// prefixed DIM_ override file values; a missing config file is not an
// error, since every field also has a built-in default.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":0")
	v.SetDefault("stun_server", "stun.l.google.com:19302")
	v.SetDefault("log_level", "info")
	v.SetDefault("realm_id", "default")
	v.SetDefault("enable_punch", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(DefaultConfigPath)
	}

	v.SetEnvPrefix("DIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok && !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	if cfg.Identifier == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("config: resolving default identifier: %w", err)
		}
		cfg.Identifier = hostname
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return &cfg, nil
}

// Validate checks that required fields are well-formed.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.StunServer == "" {
		return fmt.Errorf("stun_server is required")
	}
	if c.RealmID == "" {
		return fmt.Errorf("realm_id is required")
	}
	return nil
}
