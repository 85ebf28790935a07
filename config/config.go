// Package config loads the YAML configuration shared by the v2xsec binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"xdao.co/v2xsec/certcache"
	"xdao.co/v2xsec/cmh"
	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/keyrecon"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/profile"
	"xdao.co/v2xsec/spdu"
	"xdao.co/v2xsec/storage/casconfig"
)

type Config struct {
	Log       LogConfig              `yaml:"log"`
	Executor  executor.Config        `yaml:"executor"`
	Processor spdu.ProcessorOptions  `yaml:"processor"`
	Cache     CacheConfig            `yaml:"cache"`
	Profiles  ProfilesConfig         `yaml:"profiles"`
	Butterfly ButterflyConfig        `yaml:"butterfly"`
	Store     casconfig.Config       `yaml:"store"`
	// TrustAnchors are files holding explicit self-signed root certificates.
	TrustAnchors []string `yaml:"trust_anchors"`
	// Credentials are CMHF container files loaded into the signing store.
	Credentials []string `yaml:"credentials"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
	// KeyTTL bounds reuse of a reconstructed verification key.
	KeyTTL time.Duration `yaml:"key_ttl"`
}

type ProfilesConfig struct {
	profile.Options `yaml:",inline"`
	Entries         []profile.Entry `yaml:"entries"`
}

type ButterflyConfig struct {
	keyrecon.Params  `yaml:",inline"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
}

var (
	defaultLog = LogConfig{Level: "info", Format: "text"}

	defaultCache = CacheConfig{
		TTL:      time.Duration(certcache.DefaultTTL) * time.Microsecond,
		Capacity: 4096,
		KeyTTL:   time.Duration(spdu.DefaultKeyTTL) * time.Microsecond,
	}

	defaultProcessor = spdu.ProcessorOptions{
		Workers:    spdu.DefaultWorkers,
		QueueDepth: spdu.DefaultQueueDepth,
	}

	defaultProfiles = ProfilesConfig{
		Options: profile.Options{Capacity: profile.DefaultCapacity, ReplayCapacity: profile.DefaultReplayCapacity},
	}

	defaultButterfly = ButterflyConfig{
		Params:           keyrecon.DefaultParams(),
		RotationInterval: time.Duration(cmh.DefaultRotationInterval) * time.Microsecond,
	}
)

// Default returns a configuration with every field set to its default. It
// has no profiles, no credentials and no certificate store.
func Default() Config {
	return Config{
		Log:       defaultLog,
		Executor:  executor.Config{Backend: "software"},
		Processor: defaultProcessor,
		Cache:     defaultCache,
		Profiles:  defaultProfiles,
		Butterfly: defaultButterfly,
	}
}

// Load reads filename over Default, so omitted fields keep their defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration without opening anything.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format %q", c.Log.Format)
	}
	if c.Cache.TTL < 0 || c.Cache.KeyTTL < 0 || c.Butterfly.RotationInterval < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	for i := range c.Profiles.Entries {
		if err := c.Profiles.Entries[i].Validate(); err != nil {
			return err
		}
	}
	if c.Store.Enabled() {
		if err := c.Store.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Logger builds the logrus logger described by Log.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// Marshal renders c as YAML, used to print a template.
func (c *Config) Marshal() ([]byte, error) { return yaml.Marshal(c) }

func micros(d time.Duration) model.Time64 { return model.DurationFrom(d) }
