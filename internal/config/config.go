package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultVerbosity        = "info"
	DefaultEncoding         = "console"
	DefaultMaxPlatforms     = 8
	DefaultBaseOptions      = "-cl-fast-relaxed-math"
	DefaultPreferredOptions = "-cl-std=CL2.0 -cl-uniform-work-group-size"
	DefaultMaxSourceBytes   = 64 * 1024
	DefaultMaxLogBytes      = 64 * 1024
	DefaultGroupSize        = 256
)

type LoggerConfig struct {
	Verbosity string `yaml:"verbosity"`
	Encoding  string `yaml:"encoding"`
}

type DeviceConfig struct {
	// AllTypes widens enumeration from GPU-class devices to every type.
	AllTypes     bool `yaml:"allTypes"`
	Index        int  `yaml:"index"`
	MaxPlatforms int  `yaml:"maxPlatforms"`
}

type CompilerConfig struct {
	// BaseOptions are passed to every build attempt.
	BaseOptions string `yaml:"baseOptions"`
	// PreferredOptions select the newer dialect on the first attempt only.
	PreferredOptions string `yaml:"preferredOptions"`
	ExtraOptions     string `yaml:"extraOptions"`
	MaxSourceBytes   int    `yaml:"maxSourceBytes"`
	MaxLogBytes      int    `yaml:"maxLogBytes"`
}

type LaunchConfig struct {
	GroupSize int `yaml:"groupSize"`
}

type MetricsConfig struct {
	ListenAddress string `yaml:"listenAddress"`
}

type Config struct {
	Logger   LoggerConfig   `yaml:"logger"`
	Device   DeviceConfig   `yaml:"device"`
	Compiler CompilerConfig `yaml:"compiler"`
	Launch   LaunchConfig   `yaml:"launch"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero-valued field with its default.
func (c *Config) ApplyDefaults() {
	if c.Logger.Verbosity == "" {
		c.Logger.Verbosity = DefaultVerbosity
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = DefaultEncoding
	}
	if c.Device.MaxPlatforms <= 0 {
		c.Device.MaxPlatforms = DefaultMaxPlatforms
	}
	if c.Compiler.BaseOptions == "" {
		c.Compiler.BaseOptions = DefaultBaseOptions
	}
	if c.Compiler.PreferredOptions == "" {
		c.Compiler.PreferredOptions = DefaultPreferredOptions
	}
	if c.Compiler.MaxSourceBytes <= 0 {
		c.Compiler.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if c.Compiler.MaxLogBytes <= 0 {
		c.Compiler.MaxLogBytes = DefaultMaxLogBytes
	}
	if c.Launch.GroupSize <= 0 {
		c.Launch.GroupSize = DefaultGroupSize
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	return &config, nil
}
