// Package conf loads and validates the YAML pipeline configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

type Log struct {
	Level string `yaml:"level"`
}

func (l *Log) setDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
}

func (l *Log) validate() []error {
	if _, err := l.LevelInt(); err != nil {
		return []error{err}
	}
	return nil
}

// LevelInt maps the configured level name onto flog's numeric levels.
func (l *Log) LevelInt() (int, error) {
	switch strings.ToLower(l.Level) {
	case "trace":
		return 0, nil
	case "debug":
		return 1, nil
	case "info":
		return 2, nil
	case "warn":
		return 3, nil
	case "error":
		return 4, nil
	case "none":
		return -1, nil
	default:
		return 0, fmt.Errorf("log level must be one of: trace, debug, info, warn, error, none")
	}
}

type Slab struct {
	Frame int `yaml:"frame"`
}

func (s *Slab) setDefaults() {
	cpus := sysCPUCount()
	if s.Frame == 0 {
		// Scale with CPU count: 16 KB per core, between 64 KB and 4 MB.
		s.Frame = clampInt(cpus*16*1024, 64*1024, 4*1024*1024)
	}
}

func (s *Slab) validate() []error {
	var errs []error
	if s.Frame < 1024 || s.Frame > 32*1024*1024 {
		errs = append(errs, fmt.Errorf("slab frame size must be between 1KB and 32MB"))
	}
	return errs
}

// Conf is the root of the configuration file.
type Conf struct {
	Log      Log      `yaml:"log"`
	Slab     Slab     `yaml:"slab"`
	Pipeline Pipeline `yaml:"pipeline"`
	Bridge   *Bridge  `yaml:"bridge"`
}

func (c *Conf) setDefaults() {
	c.Log.setDefaults()
	c.Slab.setDefaults()
	c.Pipeline.setDefaults()
	if c.Bridge != nil {
		c.Bridge.setDefaults()
	}
}

func (c *Conf) validate() error {
	var errs []error
	errs = append(errs, c.Log.validate()...)
	errs = append(errs, c.Slab.validate()...)
	errs = append(errs, c.Pipeline.validate()...)
	if c.Bridge != nil {
		errs = append(errs, c.Bridge.validate()...)
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Load parses, defaults and validates a configuration document.
func Load(data []byte) (*Conf, error) {
	cfg := &Conf{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads and loads the configuration file at path.
func LoadFromFile(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data)
}
