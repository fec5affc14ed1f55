package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CZERTAINLY/checkpar/internal/jobs"
	"github.com/CZERTAINLY/checkpar/internal/log"
	"github.com/CZERTAINLY/checkpar/internal/model"
)

const (
	configFileName = "checkpar.yaml"
	envConfig      = "CHECKPAR_CONFIG"
	envPrefix      = "CHECKPAR"
)

// userConfigPath is /default/config/path/checkpar on given OS.
func userConfigPath() string {
	d, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(d, "checkpar")
}

// initCheckpar loads the config file, layers environment and flags on top of it
// and sets up logging. Nothing is written when no config file exists.
func (a *app) initCheckpar(cmd *cobra.Command, _ []string) error {
	stderr := cmd.ErrOrStderr()
	slog.SetDefault(log.New(stderr, a.flagVerbose))

	a.configPath = findConfig(a.flagConfigFilePath)
	a.config = model.DefaultConfig()
	if a.configPath != "" {
		cfg, err := loadConfig(a.configPath)
		if err != nil {
			for _, d := range model.ConfigErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return a.unknown(cmd, fmt.Errorf("%w: %s: %w", model.ErrInvalidConfig, a.configPath, err))
		}
		a.config = cfg
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	cfg, err := applyOverrides(a.config, a.v)
	if err != nil {
		return a.unknown(cmd, err)
	}
	a.config = cfg

	// --verbose has a precedence over config file
	if a.flagVerbose {
		a.config.Verbose = true
	}
	slog.SetDefault(log.New(stderr, a.config.Verbose))

	slog.Debug("checkpar run", "configPath", a.configPath)
	slog.Debug("checkpar run", "config", a.config)
	return nil
}

// findConfig returns the config file to load, or an empty string. The
// environment wins over --config, then the user config dir and the working
// directory are searched.
func findConfig(flagPath string) string {
	if path, ok := os.LookupEnv(envConfig); ok && path != "" {
		return path
	}
	if flagPath != "" {
		return flagPath
	}
	for _, d := range []string{userConfigPath(), "."} {
		if d == "" {
			continue
		}
		path := filepath.Join(d, configFileName)
		if exists(path) {
			return path
		}
	}
	return ""
}

func loadConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return model.LoadConfig(f)
}

// applyOverrides copies the flags and CHECKPAR_* variables which were set
// explicitly over cfg.
func applyOverrides(cfg model.Config, v *viper.Viper) (model.Config, error) {
	if v.IsSet("hosts") {
		cfg.Hosts = jobs.ParseTargets(v.GetString("hosts"))
	}
	if v.IsSet("plugin") {
		cfg.Check.Plugin = v.GetString("plugin")
	}
	if v.IsSet("args") {
		cfg.Check.Args = v.GetString("args")
	}
	if v.IsSet("concurrency") {
		cfg.Concurrency = v.GetInt("concurrency")
	}
	if v.IsSet("host-flag") {
		cfg.Check.HostFlag = v.GetString("host-flag")
	}
	if v.IsSet("strip-prefix") {
		cfg.Check.StripPrefixes = v.GetStringSlice("strip-prefix")
	}
	if v.IsSet("verbose") {
		cfg.Verbose = v.GetBool("verbose")
	}
	if v.IsSet("metrics") {
		cfg.Metrics.Exporter = v.GetString("metrics")
	}
	if v.IsSet("tracing") {
		cfg.Tracing.Exporter = v.GetString("tracing")
	}
	for key, d := range map[string]*model.Duration{
		"timeout": &cfg.Check.Timeout,
		"grace":   &cfg.Check.Grace,
	} {
		if !v.IsSet(key) {
			continue
		}
		if err := d.UnmarshalText([]byte(v.GetString(key))); err != nil {
			return model.Config{}, fmt.Errorf("%w: %s: %w", model.ErrInvalidConfig, key, err)
		}
	}
	return cfg, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return err == nil && info.Mode().IsRegular()
}
