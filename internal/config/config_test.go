package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "_mirror", cfg.MirrorSuffix)
	assert.Equal(t, BackendNone, cfg.Remote.Backend)
	assert.Equal(t, DefaultDestination, cfg.Remote.Destination)
	assert.True(t, cfg.Remote.Snapshot)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid drive",
			mutate: func(c *Config) { c.Remote.Backend = "Drive"; c.Remote.Drive.Token = "tok" },
		},
		{
			name:    "drive without token",
			mutate:  func(c *Config) { c.Remote.Backend = BackendDrive },
			wantErr: "remote.drive.token",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Remote.Backend = BackendS3 },
			wantErr: "remote.s3.bucket",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Remote.Backend = "ftp" },
			wantErr: "unknown remote backend",
		},
		{
			name:    "empty suffix",
			mutate:  func(c *Config) { c.MirrorSuffix = "" },
			wantErr: "mirror suffix",
		},
		{
			name:    "suffix with separator",
			mutate:  func(c *Config) { c.MirrorSuffix = "a/b" },
			wantErr: "mirror suffix",
		},
		{
			name:    "short interval",
			mutate:  func(c *Config) { c.Interval = 10 * time.Millisecond },
			wantErr: "interval",
		},
		{
			name:    "bad destination entry",
			mutate:  func(c *Config) { c.Remote.Destination = []string{"Backups", " "} },
			wantErr: "remote destination",
		},
		{
			name:    "bad control addr",
			mutate:  func(c *Config) { c.Control.Addr = "localhost" },
			wantErr: "control addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalisesBackend(t *testing.T) {
	cfg := Default()
	cfg.Remote.Backend = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendNone, cfg.Remote.Backend)

	cfg.Remote.Backend = "S3"
	cfg.Remote.S3.Bucket = "b"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendS3, cfg.Remote.Backend)
}

func TestValidateResolvesProjectRoot(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.ProjectRoot = filepath.Join(dir, "a", "..", "b")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(dir, "b"), cfg.ProjectRoot)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `project_root: ` + dir + `
mirror_suffix: _copy
interval: 90s
ignore_patterns:
  - "*.tmp"
remote:
  backend: catalog
  destination: [Backups, Work]
  catalog:
    dir: ` + filepath.Join(dir, "catalog") + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SYFTBACKUP_REMOTE_SNAPSHOT", "false")

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	v.AutomaticEnv()
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, "_copy", cfg.MirrorSuffix)
	assert.Equal(t, 90*time.Second, cfg.Interval)
	assert.Equal(t, []string{"*.tmp"}, cfg.IgnorePatterns)
	assert.Equal(t, BackendCatalog, cfg.Remote.Backend)
	assert.Equal(t, []string{"Backups", "Work"}, cfg.Remote.Destination)
	assert.False(t, cfg.Remote.Snapshot)
	assert.Equal(t, 200, cfg.PreviewChars)
	assert.Equal(t, DefaultControlAddr, cfg.Control.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("remote.backend", "drive")

	_, err := Load(v)
	assert.ErrorContains(t, err, "remote.drive.token")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.IgnorePatterns = []string{"build/"}
	cfg.Remote.Backend = BackendS3
	cfg.Remote.S3.Bucket = "backups"
	require.NoError(t, cfg.Save(path))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	loaded, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"build/"}, loaded.IgnorePatterns)
	assert.Equal(t, "backups", loaded.Remote.S3.Bucket)
	assert.Equal(t, cfg.Interval, loaded.Interval)
}

func TestRemotePath(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultDestination, cfg.RemotePath())

	cfg.Remote.PerDevice = true
	path := cfg.RemotePath()
	require.Len(t, path, len(DefaultDestination)+1)
	assert.Equal(t, DeviceTag(), path[len(path)-1])
	assert.Equal(t, DefaultDestination, cfg.Remote.Destination)
}
