package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/syftbackup/internal/config"
	"github.com/openmined/syftbackup/internal/logging"
	"github.com/openmined/syftbackup/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
	logCloser      io.Closer
)

// flag name -> config key
var boundFlags = map[string]string{
	"project":     "project_root",
	"log-level":   "log_level",
	"log-file":    "log_file",
	"interval":    "interval",
	"debounce":    "debounce",
	"json-report": "json_report",
	"backend":     "remote.backend",
	"http-addr":   "control.addr",
	"http-token":  "control.token",
}

var rootCmd = &cobra.Command{
	Use:           "syftbackup",
	Short:         "SyftBackup mirrors a project directory and uploads the mirror",
	Version:       version.Detailed(),
	SilenceErrors: true,
}

func init() {
	addPersistentFlags(rootCmd)
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
	cmd.PersistentFlags().StringP("project", "p", "", "project root (defaults to the current directory)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "log file path (defaults to "+config.DefaultLogFilePath+" for long running commands)")
}

func main() {
	closer, err := logging.Setup(logging.Options{Level: slog.LevelInfo})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	logCloser = closer

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = rootCmd.ExecuteContext(ctx)
	stop()
	logCloser.Close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("ERROR"), err)
		os.Exit(1)
	}
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	config.SetDefaults(v)

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else if envPath := os.Getenv(config.EnvPrefix + "_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		v.AddConfigPath(config.DefaultConfigDir)
		v.AddConfigPath(filepath.Join(home, ".config", "syftbackup"))
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for name, key := range boundFlags {
		if f := cmd.Flag(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(config.EnvKeyReplacer)
	v.AutomaticEnv()

	return v, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// setupLogging reinstalls the default logger once the config is known.
// Long running commands always log to a file.
func setupLogging(cfg *config.Config, longRunning bool) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}

	logFile := cfg.LogFile
	if logFile == "" && longRunning {
		logFile = config.DefaultLogFilePath
	}

	closer, err := logging.Setup(logging.Options{Level: level, FilePath: logFile})
	if err != nil {
		return err
	}
	if logCloser != nil {
		logCloser.Close()
	}
	logCloser = closer
	return nil
}

// projectRoot picks the positional argument, then the configured root, then the working directory.
func projectRoot(cfg *config.Config, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.ProjectRoot != "" {
		return cfg.ProjectRoot, nil
	}
	return os.Getwd()
}
