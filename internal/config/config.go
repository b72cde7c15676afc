// Package config loads the settings of the psi command from a file and PSI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ktopiwo/psi/pkg/log"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/math/sample"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. PSI_GOSSIP_LISTEN.
const EnvPrefix = "PSI"

// Emptiness labelling schemes.
const (
	SchemeCommutative = "commutative"
	SchemeKeyedHash   = "keyed-hash"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	// Modulus is the base 10 prime shared by both parties. Empty selects 2^521-1.
	Modulus string `mapstructure:"modulus"`
	// Entropy names the randomness source, see sample.Source.
	Entropy string `mapstructure:"entropy"`
	// Workers is the size of the exponentiation pool; 0 uses every CPU.
	Workers int `mapstructure:"workers"`
	// HashCache is the number of hash-to-group results kept in memory; 0 disables the cache.
	HashCache int `mapstructure:"hash_cache"`

	Log       Log       `mapstructure:"log"`
	Emptiness Emptiness `mapstructure:"emptiness"`
	Gossip    Gossip    `mapstructure:"gossip"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

type Log struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type Emptiness struct {
	Scheme  string        `mapstructure:"scheme"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

type Gossip struct {
	Listen    string   `mapstructure:"listen"`
	Peers     []string `mapstructure:"peers"`
	Namespace string   `mapstructure:"namespace"`
}

type Metrics struct {
	// Listen is the address of the prometheus endpoint; empty disables it.
	Listen string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("modulus", "")
	v.SetDefault("entropy", "system")
	v.SetDefault("workers", 0)
	v.SetDefault("hash_cache", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("emptiness.scheme", SchemeCommutative)
	v.SetDefault("emptiness.timeout", 30*time.Second)
	v.SetDefault("emptiness.retries", 0)
	v.SetDefault("gossip.listen", "/ip4/127.0.0.1/tcp/0")
	v.SetDefault("gossip.peers", []string{})
	v.SetDefault("gossip.namespace", "default")
	v.SetDefault("metrics.listen", "")
}

// Default returns the configuration used when no file and no environment variable is set.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads path, if not empty, and overrides its values with the environment.
// The file format is taken from its extension (toml, yaml, json...).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	return decode(v)
}

// Read parses a configuration of the given type ("toml", "yaml"...) from r.
func Read(r io.Reader, configType string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType(configType)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	// PSI_GOSSIP_PEERS is a single comma separated string
	if len(c.Gossip.Peers) == 1 && strings.Contains(c.Gossip.Peers[0], ",") {
		c.Gossip.Peers = strings.Split(c.Gossip.Peers[0], ",")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	invalid := func(format string, args ...interface{}) {
		errs = multierror.Append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}
	if c.Modulus != "" {
		if _, err := group.FromDecimal(c.Modulus); err != nil {
			invalid("modulus: %v", err)
		}
	}
	if _, err := sample.Source(c.Entropy); err != nil {
		invalid("entropy: %v", err)
	}
	if c.Workers < 0 {
		invalid("workers must not be negative, got %d", c.Workers)
	}
	if c.HashCache < 0 {
		invalid("hash_cache must not be negative, got %d", c.HashCache)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level: %v", err)
	}
	switch c.Emptiness.Scheme {
	case SchemeCommutative, SchemeKeyedHash:
	default:
		invalid("emptiness.scheme %q", c.Emptiness.Scheme)
	}
	if c.Emptiness.Timeout <= 0 {
		invalid("emptiness.timeout must be positive, got %s", c.Emptiness.Timeout)
	}
	if c.Emptiness.Retries < 0 {
		invalid("emptiness.retries must not be negative, got %d", c.Emptiness.Retries)
	}
	if c.Gossip.Namespace == "" {
		invalid("gossip.namespace is empty")
	}
	return errs.ErrorOrNil()
}

// Group returns the configured group, with the hash cache attached.
func (c *Config) Group() (*group.Group, error) {
	g := group.Default()
	if c.Modulus != "" {
		var err error
		if g, err = group.FromDecimal(c.Modulus); err != nil {
			return nil, err
		}
	}
	return g.WithHashCache(c.HashCache)
}

// Rand returns the configured entropy source.
func (c *Config) Rand() (io.Reader, error) {
	return sample.Source(c.Entropy)
}

// Logger builds a logger writing to stderr at the configured level.
func (c *Config) Logger() log.Logger {
	level, _ := log.ParseLevel(c.Log.Level)
	return log.New(nil, level, c.Log.JSON)
}
