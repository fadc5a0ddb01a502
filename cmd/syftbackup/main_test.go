package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/syftbackup/internal/config"
	"github.com/openmined/syftbackup/internal/version"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// isolate points config discovery at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SYFTBACKUP_CONFIG", filepath.Join(dir, "missing.yaml"))
	return dir
}

func execute(t *testing.T, sub *cobra.Command, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "syftbackup", SilenceErrors: true}
	addPersistentFlags(root)
	root.AddCommand(sub)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func newDemoProject(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "demo")
	writeFile(t, filepath.Join(root, "a.txt"), "abc")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "hello")
	return root
}

func TestVersionCommand_PrintsDetailedVersion(t *testing.T) {
	out, err := execute(t, newVersionCmd(), "version")
	require.NoError(t, err)
	require.Equal(t, version.Detailed(), strings.TrimSpace(out))
}

func TestLoadConfigEnv(t *testing.T) {
	dir := isolate(t)
	t.Setenv("SYFTBACKUP_PROJECT_ROOT", dir)
	t.Setenv("SYFTBACKUP_INTERVAL", "2m")
	t.Setenv("SYFTBACKUP_REMOTE_BACKEND", "s3")
	t.Setenv("SYFTBACKUP_REMOTE_S3_BUCKET", "team-backups")

	cmd := &cobra.Command{Use: "test"}
	addPersistentFlags(cmd)

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, 2*time.Minute, cfg.Interval)
	assert.Equal(t, config.BackendS3, cfg.Remote.Backend)
	assert.Equal(t, "team-backups", cfg.Remote.S3.Bucket)
}

func TestLoadConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "mirror_suffix: _bak\ninterval: 10m\nlog_level: warn\n")

	cmd := &cobra.Command{Use: "test"}
	addPersistentFlags(cmd)
	cmd.Flags().Duration("interval", 0, "")
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--interval", "30s"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "_bak", cfg.MirrorSuffix)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Interval)
}

func TestLoadConfigInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("SYFTBACKUP_REMOTE_BACKEND", "ftp")

	cmd := &cobra.Command{Use: "test"}
	addPersistentFlags(cmd)

	_, err := loadConfig(cmd)
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestProjectRoot(t *testing.T) {
	cfg := config.Default()

	root, err := projectRoot(cfg, []string{"/work/a"})
	require.NoError(t, err)
	assert.Equal(t, "/work/a", root)

	cfg.ProjectRoot = "/work/b"
	root, err = projectRoot(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "/work/b", root)

	cfg.ProjectRoot = ""
	wd, _ := os.Getwd()
	root, err = projectRoot(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, wd, root)
}

func TestRunCommand_LocalAndCatalog(t *testing.T) {
	dir := isolate(t)
	root := newDemoProject(t)
	t.Setenv("SYFTBACKUP_REMOTE_CATALOG_DIR", filepath.Join(dir, "catalog"))

	out, err := execute(t, newRunCmd(), "run", root, "--backend", "catalog")
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "SyftBackup/projects")

	assert.FileExists(t, filepath.Join(root, "demo_mirror", "a.txt"))
	assert.FileExists(t, filepath.Join(root, "demo_mirror", "sub", "b.txt"))
	assert.DirExists(t, filepath.Join(dir, "catalog", "blobs"))
}

func TestRunCommand_Failure(t *testing.T) {
	isolate(t)

	out, err := execute(t, newRunCmd(), "run", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, errBackupFailed)
	assert.Contains(t, out, "FAILED")
}

func TestScanCommand(t *testing.T) {
	isolate(t)
	root := newDemoProject(t)

	out, err := execute(t, newScanCmd(), "scan", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Total files: 2")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	out, err = execute(t, newScanCmd(), "scan", root, "--write", "--json-report")
	require.NoError(t, err)
	assert.Contains(t, out, "project_scan_")

	matches, err := filepath.Glob(filepath.Join(root, "project_scan_*"))
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestConfigInitCommand(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")

	out, err := execute(t, newConfigCmd(), "config", "init", "--config", path, "--backend", "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, newConfigCmd(), "config", "init", "--config", path)
	assert.ErrorIs(t, err, errConfigExists)

	_, err = execute(t, newConfigCmd(), "config", "init", "--config", path, "--force")
	require.NoError(t, err)
}

func TestConfigShowMasksSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("SYFTBACKUP_REMOTE_BACKEND", "drive")
	t.Setenv("SYFTBACKUP_REMOTE_DRIVE_TOKEN", "ya29.very-secret")

	out, err := execute(t, newConfigCmd(), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "ya29*****")
	assert.NotContains(t, out, "very-secret")
}
