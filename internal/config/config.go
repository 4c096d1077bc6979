// Package config loads the service configuration from YAML.
package config

import (
	"io"
	"os"

	"github.com/born-ml/classhead/internal/backbone"
	"github.com/born-ml/classhead/internal/featcache"
	"github.com/born-ml/classhead/internal/surgery"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// EnvPath names the environment variable consulted when no config path is
// given explicitly.
const EnvPath = "CLASSHEAD_CONFIG"

// Store backends.
const (
	StoreFS = "fs"
	StoreS3 = "s3"
)

// Config is the full service configuration.
type Config struct {
	Model    Model    `yaml:"model"`
	Store    Store    `yaml:"store"`
	Features Features `yaml:"features"`
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
}

// Model configures the classifier head and label reconciliation.
type Model struct {
	FeatureExtractor string  `yaml:"feature_extractor"`
	Pretrained       bool    `yaml:"pretrained"`
	AnchorsPerClass  int     `yaml:"anchors_per_class"`
	Noise            float32 `yaml:"noise"`
	Seed             int64   `yaml:"seed"`
	AddMissing       bool    `yaml:"add_missing"`
	RemoveObsolete   bool    `yaml:"remove_obsolete"`
	Compress         bool    `yaml:"compress"`
	// ImprintRate is the blend factor of the default training rule.
	ImprintRate float32 `yaml:"imprint_rate"`
}

// Store selects where checkpoints live.
type Store struct {
	Kind   string `yaml:"kind"`
	Root   string `yaml:"root"`
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// Features configures where item feature vectors come from.
type Features struct {
	Dir         string `yaml:"dir"`
	Precomputed bool   `yaml:"precomputed"`
	CacheSize   int    `yaml:"cache_size"`
}

// Server configures the HTTP transport.
type Server struct {
	Addr string `yaml:"addr"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Model: Model{
			FeatureExtractor: backbone.DefaultID,
			Pretrained:       true,
			AnchorsPerClass:  1,
			Noise:            surgery.DefaultNoise,
			AddMissing:       true,
			RemoveObsolete:   true,
			ImprintRate:      0.5,
		},
		Store: Store{
			Kind: StoreFS,
			Root: "checkpoints",
		},
		Features: Features{
			Dir:         "features",
			Precomputed: true,
			CacheSize:   featcache.DefaultSize,
		},
		Server: Server{Addr: ":8080"},
		Log:    Log{Level: "info"},
	}
}

// Load reads the file at path, or the file named by $CLASSHEAD_CONFIG when
// path is empty. With neither set, the defaults are returned. Keys absent
// from the file keep their default values.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "error opening config %s", path)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "error decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if c.Model.FeatureExtractor == "" {
		return errors.New("model.feature_extractor must be set")
	}
	if c.Model.AnchorsPerClass < 1 {
		return errors.Errorf("model.anchors_per_class must be at least 1, got %d", c.Model.AnchorsPerClass)
	}
	if c.Model.Noise < 0 {
		return errors.Errorf("model.noise must not be negative, got %v", c.Model.Noise)
	}
	if c.Model.ImprintRate <= 0 || c.Model.ImprintRate > 1 {
		return errors.Errorf("model.imprint_rate must be in (0, 1], got %v", c.Model.ImprintRate)
	}

	switch c.Store.Kind {
	case StoreFS:
		if c.Store.Root == "" {
			return errors.New("store.root must be set for the fs store")
		}
	case StoreS3:
		if c.Store.Bucket == "" || c.Store.Region == "" {
			return errors.New("store.bucket and store.region must be set for the s3 store")
		}
	default:
		return errors.Errorf("store.kind must be %q or %q, got %q", StoreFS, StoreS3, c.Store.Kind)
	}

	if c.Features.CacheSize < 0 {
		return errors.Errorf("features.cache_size must not be negative, got %d", c.Features.CacheSize)
	}
	if c.Features.Precomputed && c.Features.Dir == "" {
		return errors.New("features.dir must be set for precomputed features")
	}
	return nil
}

// SurgeryOptions returns the surgeon options described by the model section.
func (m Model) SurgeryOptions() surgery.Options {
	return surgery.Options{
		AnchorsPerClass: m.AnchorsPerClass,
		Noise:           m.Noise,
		Seed:            m.Seed,
	}
}

// Policy returns the label reconciliation policy.
func (m Model) Policy() surgery.Policy {
	return surgery.Policy{
		AddMissing:     m.AddMissing,
		RemoveObsolete: m.RemoveObsolete,
	}
}
