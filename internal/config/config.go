// Package config loads the server configuration from a YAML file and
// PLCSERVER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"plcserver/internal/blob"
	"plcserver/internal/core"
	"plcserver/internal/logging"
	"plcserver/internal/mirror"
	"plcserver/internal/tanksystem"
)

// Defaults applied before the file and the environment are read.
const (
	DefaultPath         = "server.yaml"
	DefaultEndpoint     = "opc.tcp://0.0.0.0:4840"
	DefaultNamespaceURI = "urn:plcserver:tanksystem"
	DefaultHTTPAddr     = ":8080"
	DefaultSQLitePath   = "db.sqlite"
	DefaultArchiveRoot  = "./archive"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsExpvar     = "expvar"
)

// Config is the full server configuration.
type Config struct {
	Endpoint     string        `yaml:"endpoint"`
	NamespaceURI string        `yaml:"namespace_uri"`
	HTTPAddr     string        `yaml:"http_addr"`
	Instances    []string      `yaml:"instances"`
	Storage      StorageConfig `yaml:"storage"`
	Mirror       MirrorConfig  `yaml:"mirror"`
	Log          LogConfig     `yaml:"log"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Archive      ArchiveConfig `yaml:"archive"`
}

// StorageConfig selects the reading backend.
type StorageConfig struct {
	Driver       core.StorageDriver `yaml:"driver"`
	SQLitePath   string             `yaml:"sqlite_path"`
	PostgresDSN  string             `yaml:"postgres_dsn"`
	CreateSchema bool               `yaml:"create_schema"`
}

// MirrorConfig tunes the address space mirror.
type MirrorConfig struct {
	QueueSize int `yaml:"queue_size"`
	// RefreshInterval enables the periodic refresher when positive.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig selects the metrics sink.
type MetricsConfig struct {
	Backend string `yaml:"backend"`
}

// ArchiveConfig selects the blob store receiving history archives.
type ArchiveConfig struct {
	Driver blob.Driver `yaml:"driver"`
	FSRoot string      `yaml:"fs_root"`
	S3     S3Config    `yaml:"s3"`
}

// S3Config addresses an S3 or MinIO bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Endpoint:     DefaultEndpoint,
		NamespaceURI: DefaultNamespaceURI,
		HTTPAddr:     DefaultHTTPAddr,
		Instances:    []string{tanksystem.DefaultInstanceName},
		Storage: StorageConfig{
			Driver:       core.StorageSQLite,
			SQLitePath:   DefaultSQLitePath,
			CreateSchema: true,
		},
		Mirror:  MirrorConfig{QueueSize: mirror.DefaultQueueSize},
		Log:     LogConfig{Level: "info", Format: logging.FormatText},
		Metrics: MetricsConfig{Backend: MetricsPrometheus},
		Archive: ArchiveConfig{Driver: blob.DriverFilesystem, FSRoot: DefaultArchiveRoot},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PLCSERVER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var storageDriver, blobDriver string
	str("PLCSERVER_STORAGE_DRIVER", &storageDriver)
	if storageDriver != "" {
		c.Storage.Driver = core.StorageDriver(storageDriver)
	}
	str("PLCSERVER_SQLITE_PATH", &c.Storage.SQLitePath)
	str("PLCSERVER_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("PLCSERVER_HTTP_ADDR", &c.HTTPAddr)
	str("PLCSERVER_LOG_LEVEL", &c.Log.Level)
	str("PLCSERVER_BLOB_DRIVER", &blobDriver)
	if blobDriver != "" {
		c.Archive.Driver = blob.Driver(blobDriver)
	}
	str("PLCSERVER_BLOB_FS_ROOT", &c.Archive.FSRoot)
	str("PLCSERVER_BLOB_S3_BUCKET", &c.Archive.S3.Bucket)
	str("PLCSERVER_BLOB_S3_REGION", &c.Archive.S3.Region)
	str("PLCSERVER_BLOB_S3_ENDPOINT", &c.Archive.S3.Endpoint)
	if v, ok := lookup("PLCSERVER_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PLCSERVER_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Archive.S3.PathStyle = b
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage: postgres driver requires postgres_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.NamespaceURI) == "" {
		errs = append(errs, errors.New("namespace_uri: must not be empty"))
	}
	if len(c.Instances) == 0 {
		errs = append(errs, errors.New("instances: at least one instance is required"))
	}
	seen := make(map[string]struct{}, len(c.Instances))
	for _, name := range c.Instances {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("instances: empty instance name"))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("instances: duplicate instance %q", name))
		}
		seen[name] = struct{}{}
	}
	if c.Mirror.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("mirror: queue_size must be positive, got %d", c.Mirror.QueueSize))
	}
	if c.Mirror.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("mirror: negative refresh_interval %s", c.Mirror.RefreshInterval))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	switch c.Metrics.Backend {
	case MetricsPrometheus, MetricsExpvar:
	default:
		errs = append(errs, fmt.Errorf("metrics: unknown backend %q", c.Metrics.Backend))
	}
	switch c.Archive.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, errors.New("archive: s3 driver requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive: unknown driver %q", c.Archive.Driver))
	}
	return errors.Join(errs...)
}

// StorageOptions converts the storage section for core.OpenReadingBackend.
func (c Config) StorageOptions() core.StorageOptions {
	return core.StorageOptions{
		Driver:       c.Storage.Driver,
		SQLitePath:   c.Storage.SQLitePath,
		PostgresDSN:  c.Storage.PostgresDSN,
		CreateSchema: c.Storage.CreateSchema,
	}
}

// BlobOptions converts the archive section for blob.Open.
func (c Config) BlobOptions() blob.Options {
	return blob.Options{
		Driver: c.Archive.Driver,
		FSRoot: c.Archive.FSRoot,
		S3: blob.S3Config{
			Bucket:    c.Archive.S3.Bucket,
			Region:    c.Archive.S3.Region,
			Endpoint:  c.Archive.S3.Endpoint,
			PathStyle: c.Archive.S3.PathStyle,
		},
	}
}

// LoggingConfig converts the log section for logging.New.
func (c Config) LoggingConfig(service string) logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, Service: service}
}
