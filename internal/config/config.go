// Package config holds the gateway configuration: built-in defaults, an
// optional YAML file and command-line overrides, applied in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPort is returned by Validate for ports outside 1..65535.
var ErrInvalidPort = errors.New("invalid port")

// Config stores every parameter of a gateway run.
type Config struct {
	Listen     string        `yaml:"listen"`      // server-role bind address
	Port       int           `yaml:"port"`        // server-role port
	Server     string        `yaml:"server"`      // rendezvous host; empty disables the client role
	ServerPort int           `yaml:"server_port"` // rendezvous port
	Name       string        `yaml:"name"`        // sign-in name
	STUN       []string      `yaml:"stun"`        // ICE servers
	Monitor    string        `yaml:"monitor"`     // event feed address; empty disables it
	Debug      bool          `yaml:"debug"`
	Tick       time.Duration `yaml:"tick"` // queue drain interval
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:     "localhost",
		Port:       8888,
		ServerPort: 8888,
		Name:       defaultName(),
		STUN:       []string{"stun:stun.l.google.com:19302"},
		Tick:       10 * time.Millisecond,
	}
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "rtcgw"
	}
	return "rtcgw@" + host
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail late at bind time.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d is not a valid listen port", ErrInvalidPort, c.Port))
	}
	if c.Server != "" && (c.ServerPort < 1 || c.ServerPort > 65535) {
		errs = append(errs, fmt.Errorf("%w: %d is not a valid server port", ErrInvalidPort, c.ServerPort))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", c.Tick))
	}
	if c.Server != "" && c.Name == "" {
		errs = append(errs, errors.New("a sign-in name is required with a server"))
	}

	return errors.Join(errs...)
}
