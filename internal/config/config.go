package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/openmined/syftbackup/internal/utils"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	BackendNone    = "none"
	BackendDrive   = "drive"
	BackendS3      = "s3"
	BackendCatalog = "catalog"

	EnvPrefix = "SYFTBACKUP"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".syftbackup")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.yaml")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "syftbackup.log")
	DefaultCatalogDir  = filepath.Join(DefaultConfigDir, "catalog")
	DefaultControlAddr = "127.0.0.1:7938"
	DefaultDestination = []string{"SyftBackup", "projects"}

	backends = []string{BackendNone, BackendDrive, BackendS3, BackendCatalog}

	ErrUnknownBackend = errors.New("unknown remote backend")

	// EnvKeyReplacer maps nested keys like remote.s3.bucket to SYFTBACKUP_REMOTE_S3_BUCKET.
	EnvKeyReplacer = strings.NewReplacer(".", "_")
)

type Config struct {
	Path           string        `mapstructure:"-" yaml:"-"`
	ProjectRoot    string        `mapstructure:"project_root" yaml:"project_root,omitempty"`
	MirrorSuffix   string        `mapstructure:"mirror_suffix" yaml:"mirror_suffix"`
	IgnorePatterns []string      `mapstructure:"ignore_patterns" yaml:"ignore_patterns,omitempty"`
	SkipDefaults   bool          `mapstructure:"skip_default_ignores" yaml:"skip_default_ignores,omitempty"`
	ContentRoots   []string      `mapstructure:"content_roots" yaml:"content_roots,omitempty"`
	PreviewChars   int           `mapstructure:"preview_chars" yaml:"preview_chars"`
	JSONReport     bool          `mapstructure:"json_report" yaml:"json_report"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	RunOnStart     bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level"`
	LogFile        string        `mapstructure:"log_file" yaml:"log_file,omitempty"`
	Remote         RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	Control        ControlConfig `mapstructure:"control" yaml:"control"`
}

type RemoteConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	Destination []string      `mapstructure:"destination" yaml:"destination"`
	PerDevice   bool          `mapstructure:"per_device" yaml:"per_device"`
	Snapshot    bool          `mapstructure:"snapshot" yaml:"snapshot"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	Drive       DriveConfig   `mapstructure:"drive" yaml:"drive,omitempty"`
	S3          S3Config      `mapstructure:"s3" yaml:"s3,omitempty"`
	Catalog     CatalogConfig `mapstructure:"catalog" yaml:"catalog,omitempty"`
}

type DriveConfig struct {
	Token   string `mapstructure:"token" yaml:"token,omitempty"`
	RootID  string `mapstructure:"root_id" yaml:"root_id,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
}

type CatalogConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

type ControlConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Token     string `mapstructure:"token" yaml:"token,omitempty"`
	RateLimit string `mapstructure:"rate_limit" yaml:"rate_limit"`
}

func Default() *Config {
	return &Config{
		MirrorSuffix: "_mirror",
		PreviewChars: 200,
		Interval:     5 * time.Minute,
		RunOnStart:   true,
		Debounce:     2 * time.Second,
		LogLevel:     "info",
		Remote: RemoteConfig{
			Backend:     BackendNone,
			Destination: slices.Clone(DefaultDestination),
			Snapshot:    true,
			Concurrency: 4,
			Catalog:     CatalogConfig{Dir: DefaultCatalogDir},
		},
		Control: ControlConfig{
			Addr:      DefaultControlAddr,
			RateLimit: "120-M",
		},
	}
}

// SetDefaults registers every key with v so environment variables can
// override values that no config file sets.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("project_root", d.ProjectRoot)
	v.SetDefault("mirror_suffix", d.MirrorSuffix)
	v.SetDefault("ignore_patterns", d.IgnorePatterns)
	v.SetDefault("skip_default_ignores", d.SkipDefaults)
	v.SetDefault("content_roots", d.ContentRoots)
	v.SetDefault("preview_chars", d.PreviewChars)
	v.SetDefault("json_report", d.JSONReport)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("run_on_start", d.RunOnStart)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("remote.backend", d.Remote.Backend)
	v.SetDefault("remote.destination", d.Remote.Destination)
	v.SetDefault("remote.per_device", d.Remote.PerDevice)
	v.SetDefault("remote.snapshot", d.Remote.Snapshot)
	v.SetDefault("remote.concurrency", d.Remote.Concurrency)
	v.SetDefault("remote.drive.token", "")
	v.SetDefault("remote.drive.root_id", "")
	v.SetDefault("remote.drive.base_url", "")
	v.SetDefault("remote.s3.bucket", "")
	v.SetDefault("remote.s3.region", "")
	v.SetDefault("remote.s3.endpoint", "")
	v.SetDefault("remote.s3.prefix", "")
	v.SetDefault("remote.s3.access_key", "")
	v.SetDefault("remote.s3.secret_key", "")
	v.SetDefault("remote.catalog.dir", d.Remote.Catalog.Dir)
	v.SetDefault("control.addr", d.Control.Addr)
	v.SetDefault("control.token", "")
	v.SetDefault("control.rate_limit", d.Control.RateLimit)
}

// Load decodes the merged viper state (defaults, file, env, flags) and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalises paths and rejects unusable settings.
func (c *Config) Validate() error {
	if c.ProjectRoot != "" {
		root, err := utils.ResolvePath(c.ProjectRoot)
		if err != nil {
			return fmt.Errorf("project root: %w", err)
		}
		c.ProjectRoot = root
	}

	if c.MirrorSuffix == "" || strings.ContainsAny(c.MirrorSuffix, `/\`) {
		return fmt.Errorf("mirror suffix %q must be a non-empty file name part", c.MirrorSuffix)
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval %s is too short", c.Interval)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce %s must not be negative", c.Debounce)
	}
	if c.PreviewChars < 0 {
		return fmt.Errorf("preview chars must not be negative")
	}

	if err := c.Remote.validate(); err != nil {
		return err
	}

	if c.Control.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Control.Addr); err != nil {
			return fmt.Errorf("control addr %q: %w", c.Control.Addr, err)
		}
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	if r.Backend == "" {
		r.Backend = BackendNone
	}
	r.Backend = strings.ToLower(r.Backend)
	if !slices.Contains(backends, r.Backend) {
		return fmt.Errorf("%w %q (want one of %s)", ErrUnknownBackend, r.Backend, strings.Join(backends, ", "))
	}

	for _, name := range r.Destination {
		if strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
			return fmt.Errorf("remote destination entry %q is not a folder name", name)
		}
	}

	switch r.Backend {
	case BackendDrive:
		if r.Drive.Token == "" {
			return errors.New("remote.drive.token is required for the drive backend")
		}
	case BackendS3:
		if r.S3.Bucket == "" {
			return errors.New("remote.s3.bucket is required for the s3 backend")
		}
	case BackendCatalog:
		if r.Catalog.Dir == "" {
			return errors.New("remote.catalog.dir is required for the catalog backend")
		}
		dir, err := utils.ResolvePath(r.Catalog.Dir)
		if err != nil {
			return fmt.Errorf("catalog dir: %w", err)
		}
		r.Catalog.Dir = dir
	}

	return nil
}

// RemotePath is the folder path uploads go to, with the device folder
// appended when per-device backups are on.
func (c *Config) RemotePath() []string {
	path := slices.Clone(c.Remote.Destination)
	if c.Remote.PerDevice {
		path = append(path, DeviceTag())
	}
	return path
}

// DeviceTag identifies this machine without exposing its raw machine id.
func DeviceTag() string {
	if id, err := machineid.ProtectedID("syftbackup"); err == nil && len(id) >= 12 {
		return "device-" + id[:12]
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "device-unknown"
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := c.Marshal()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
