// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package settings loads kkrdata configuration from defaults, an optional
// JSON/YAML file, KKRDATA_* environment variables and command-line flags,
// in increasing order of precedence.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/newskylabs/kkrdata/pkg/datacache"
	"github.com/newskylabs/kkrdata/pkg/kaggle"
)

// AppName is used for the config file name and the environment prefix.
const AppName = "kkrdata"

// Keys shared by the config file, environment and flags.
const (
	KeyDataDir         = "data-dir"
	KeyKaggleEndpoint  = "kaggle-endpoint"
	KeyKaggleConfigDir = "kaggle-config-dir"
	KeyKaggleUsername  = "kaggle-username"
	KeyKaggleKey       = "kaggle-key"
	KeyCompetition     = "competition"
	KeyFontURL         = "font-url"
)

// Settings is the resolved configuration.
type Settings struct {
	// DataDir is the base data directory; the cache lives in
	// DataDir/kuzushiji-recognition. "~" is expanded.
	DataDir string `mapstructure:"data-dir" json:"data-dir" yaml:"data-dir"`

	KaggleEndpoint  string `mapstructure:"kaggle-endpoint" json:"kaggle-endpoint" yaml:"kaggle-endpoint"`
	KaggleConfigDir string `mapstructure:"kaggle-config-dir" json:"kaggle-config-dir" yaml:"kaggle-config-dir"`
	KaggleUsername  string `mapstructure:"kaggle-username" json:"kaggle-username" yaml:"kaggle-username"`
	KaggleKey       string `mapstructure:"kaggle-key" json:"kaggle-key" yaml:"kaggle-key"`

	// Competition is the Kaggle competition slug of the dataset archive.
	Competition string `mapstructure:"competition" json:"competition" yaml:"competition"`

	// FontURL is where the font archive is fetched from.
	FontURL string `mapstructure:"font-url" json:"font-url" yaml:"font-url"`
}

// Defaults returns the built-in configuration.
func Defaults() Settings {
	return Settings{
		DataDir:        "~/.kkrdata/datasets",
		KaggleEndpoint: kaggle.DefaultEndpoint,
		Competition:    "kuzushiji-recognition",
		FontURL:        datacache.DefaultFontURL,
	}
}

// LoadOptions are the explicit inputs to Load.
type LoadOptions struct {
	// ConfigFile forces a specific config file. When empty, the default
	// locations from CandidatePaths are tried.
	ConfigFile string

	// Flags, when set, override file and environment values for every key
	// whose flag was changed on the command line.
	Flags *pflag.FlagSet
}

// Load resolves settings and returns them with the config file used ("" if none).
func Load(opts LoadOptions) (Settings, string, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault(KeyDataDir, d.DataDir)
	v.SetDefault(KeyKaggleEndpoint, d.KaggleEndpoint)
	v.SetDefault(KeyKaggleConfigDir, d.KaggleConfigDir)
	v.SetDefault(KeyKaggleUsername, d.KaggleUsername)
	v.SetDefault(KeyKaggleKey, d.KaggleKey)
	v.SetDefault(KeyCompetition, d.Competition)
	v.SetDefault(KeyFontURL, d.FontURL)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path := opts.ConfigFile
	if path == "" {
		for _, p := range CandidatePaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	} else if _, err := os.Stat(path); err != nil {
		return Settings{}, "", fmt.Errorf("config file: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext == "yml" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, "", fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	if opts.Flags != nil {
		for _, key := range []string{KeyDataDir, KeyKaggleEndpoint, KeyKaggleConfigDir, KeyCompetition, KeyFontURL} {
			if f := opts.Flags.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Settings{}, "", err
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, "", fmt.Errorf("failed to parse config: %w", err)
	}
	return s, path, nil
}

// CandidatePaths lists the default config file locations in lookup order.
func CandidatePaths() []string {
	dir, err := ConfigDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(dir, AppName+".json"),
		filepath.Join(dir, AppName+".yaml"),
		filepath.Join(dir, AppName+".yml"),
	}
}

// ConfigDir is ~/.config (or $XDG_CONFIG_HOME when set).
func ConfigDir() (string, error) {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return x, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config"), nil
}

// CacheDir returns the absolute cache directory for the dataset.
func (s Settings) CacheDir() (string, error) {
	if strings.TrimSpace(s.DataDir) == "" {
		return "", errors.New("data-dir is empty")
	}
	base, err := Expand(s.DataDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, datacache.DatasetName), nil
}

// Catalog returns the default catalog adjusted to these settings.
func (s Settings) Catalog() datacache.Catalog {
	cat := datacache.DefaultCatalog()
	if s.FontURL != "" {
		cat = cat.WithURL(datacache.FontArchive, s.FontURL)
	}
	if s.Competition != "" {
		cat = cat.WithCompetition(datacache.DatasetArchive, s.Competition)
	}
	return cat
}

// KaggleOptions maps the settings onto kaggle client options.
func (s Settings) KaggleOptions() (kaggle.Options, error) {
	opts := kaggle.Options{
		Endpoint: s.KaggleEndpoint,
		Credentials: kaggle.Credentials{
			Username: s.KaggleUsername,
			Key:      s.KaggleKey,
		},
	}
	if s.KaggleConfigDir != "" {
		d, err := Expand(s.KaggleConfigDir)
		if err != nil {
			return opts, err
		}
		opts.ConfigDir = d
	}
	return opts, nil
}

// Redacted returns a copy safe to print.
func (s Settings) Redacted() Settings {
	if len(s.KaggleKey) > 4 {
		s.KaggleKey = s.KaggleKey[:4] + "****"
	} else if s.KaggleKey != "" {
		s.KaggleKey = "****"
	}
	return s
}

// Expand resolves a leading "~" and makes path absolute.
func Expand(path string) (string, error) {
	p, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return filepath.Abs(p)
}
