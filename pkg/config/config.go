package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dandiarchive/dandipub/dpapi"
)

const (
	StrategyTimestamp = "timestamp"
	StrategyProbe     = "probe"

	PolicyEnforce  = "enforce"
	PolicyAdvisory = "advisory"
	PolicyOff      = "off"

	StoreS3     = "s3"
	StoreMemory = "memory"
)

type GirderConfig struct {
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

type StoreConfig struct {
	Kind          string `yaml:"kind"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	StagingPrefix string `yaml:"staging_prefix"`
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	PathStyle     bool   `yaml:"path_style"`
}

type CatalogConfig struct {
	// DatabaseURL selects the postgres catalog; empty means an in-process catalog.
	DatabaseURL string `yaml:"database_url"`
}

type QueueConfig struct {
	RedisURL    string `yaml:"redis_url"`
	Name        string `yaml:"name"`
	Concurrency int    `yaml:"concurrency"`
}

type ValidatorConfig struct {
	Path   string   `yaml:"path"`
	Args   []string `yaml:"args"`
	Policy string   `yaml:"policy"`
}

type TransferConfig struct {
	SpoolDir   string `yaml:"spool_dir"`
	ChunkBytes int    `yaml:"chunk_bytes"`
}

type VersionConfig struct {
	Strategy string `yaml:"strategy"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full service configuration.
// It is assembled by Load in a fixed order: defaults, then the optional
// YAML file, then the environment. Command-line flags are applied by the
// caller afterwards.
type Config struct {
	Girder    GirderConfig    `yaml:"girder"`
	Store     StoreConfig     `yaml:"store"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Queue     QueueConfig     `yaml:"queue"`
	Validator ValidatorConfig `yaml:"validator"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Version   VersionConfig   `yaml:"version"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Girder: GirderConfig{
			APIURL: "https://girder.dandiarchive.org/api/v1/",
		},
		Store: StoreConfig{
			Kind:          StoreS3,
			Bucket:        "dandi",
			Prefix:        "dandisets",
			StagingPrefix: "staging",
			Region:        "us-east-1",
		},
		Queue: QueueConfig{
			RedisURL:    "redis://localhost:6379/0",
			Name:        "dandi-publish",
			Concurrency: 1,
		},
		Validator: ValidatorConfig{
			Path:   "dandi",
			Args:   []string{"validate"},
			Policy: PolicyEnforce,
		},
		Transfer: TransferConfig{
			SpoolDir:   os.TempDir(),
			ChunkBytes: 1 << 20,
		},
		Version: VersionConfig{
			Strategy: StrategyTimestamp,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), and the process environment.
//
// Errors:
//
//   - dandi-error-io -- when the config file cannot be read
//   - dandi-error-serialization -- when the config file is not valid YAML
//   - dandi-error-config -- when an environment value cannot be parsed
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, lookupEnv()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func lookupEnv() map[string]string {
	env := make(map[string]string, len(envKeys))
	for _, key := range envKeys {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	return env
}

func loadFile(cfg *Config, path string) error {
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return dpapi.ErrorIo("config file missing", path, err)
	}
	if err != nil {
		return dpapi.ErrorIo("reading config file", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(body))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return dpapi.ErrorSerialization("parsing config file "+path, err)
	}
	return nil
}

func applyEnv(cfg *Config, env map[string]string) error {
	setString := func(key string, dst *string) {
		if v, ok := env[key]; ok {
			*dst = v
		}
	}
	setString(EnvGirderAPIURL, &cfg.Girder.APIURL)
	setString(EnvGirderToken, &cfg.Girder.Token)
	setString(EnvBucketName, &cfg.Store.Bucket)
	setString(EnvStoragePrefix, &cfg.Store.Prefix)
	setString(EnvStagingPrefix, &cfg.Store.StagingPrefix)
	setString(EnvS3EndpointURL, &cfg.Store.Endpoint)
	setString(EnvAWSRegion, &cfg.Store.Region)
	setString(EnvDatabaseURL, &cfg.Catalog.DatabaseURL)
	setString(EnvRedisURL, &cfg.Queue.RedisURL)
	setString(EnvQueueName, &cfg.Queue.Name)
	setString(EnvValidatorPath, &cfg.Validator.Path)
	setString(EnvValidationPolicy, &cfg.Validator.Policy)
	setString(EnvVersionStrategy, &cfg.Version.Strategy)
	setString(EnvSpoolDir, &cfg.Transfer.SpoolDir)
	setString(EnvMetricsAddr, &cfg.Metrics.Addr)

	if v, ok := env[EnvS3PathStyle]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return dpapi.ErrorConfig(EnvS3PathStyle, "must be a boolean")
		}
		cfg.Store.PathStyle = b
	}
	if v, ok := env[EnvWorkerConcurrency]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return dpapi.ErrorConfig(EnvWorkerConcurrency, "must be an integer")
		}
		cfg.Queue.Concurrency = n
	}
	if v, ok := env[EnvTransferChunkBytes]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return dpapi.ErrorConfig(EnvTransferChunkBytes, "must be an integer")
		}
		cfg.Transfer.ChunkBytes = n
	}
	return nil
}

// Validate checks the values every command relies on.
//
// Errors:
//
//   - dandi-error-config -- naming the first offending setting
func (c Config) Validate() error {
	if c.Girder.APIURL == "" {
		return dpapi.ErrorConfig("girder.api_url", "must be set")
	}
	if !strings.HasSuffix(c.Girder.APIURL, "/") {
		return dpapi.ErrorConfig("girder.api_url", "must end with a slash")
	}
	switch c.Store.Kind {
	case StoreS3, StoreMemory:
	default:
		return dpapi.ErrorConfig("store.kind", "must be one of s3, memory")
	}
	if c.Store.Bucket == "" {
		return dpapi.ErrorConfig("store.bucket", "must be set")
	}
	if c.Store.Prefix == "" {
		return dpapi.ErrorConfig("store.prefix", "must be set")
	}
	if c.Store.StagingPrefix == "" || c.Store.StagingPrefix == c.Store.Prefix {
		return dpapi.ErrorConfig("store.staging_prefix", "must be set and differ from store.prefix")
	}
	if c.Queue.Concurrency < 1 {
		return dpapi.ErrorConfig("queue.concurrency", "must be at least 1")
	}
	switch c.Validator.Policy {
	case PolicyEnforce, PolicyAdvisory, PolicyOff:
	default:
		return dpapi.ErrorConfig("validator.policy", "must be one of enforce, advisory, off")
	}
	if c.Validator.Policy != PolicyOff && c.Validator.Path == "" {
		return dpapi.ErrorConfig("validator.path", "must be set unless validation is off")
	}
	switch c.Version.Strategy {
	case StrategyTimestamp, StrategyProbe:
	default:
		return dpapi.ErrorConfig("version.strategy", "must be one of timestamp, probe")
	}
	if c.Transfer.ChunkBytes < 1 {
		return dpapi.ErrorConfig("transfer.chunk_bytes", "must be positive")
	}
	return nil
}
