// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/newskylabs/kkrdata/internal/settings"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd(a))
	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigPathCmd(a))

	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/kkrdata.json (or .yaml)

Values are overridden by KKRDATA_* environment variables (KKRDATA_DATA_DIR,
KKRDATA_FONT_URL, ...), and CLI flags always override both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := settings.ConfigDir()
			if err != nil {
				return fmt.Errorf("could not find home directory: %w", err)
			}

			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			configPath := filepath.Join(configDir, settings.AppName+ext)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}

			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			cfg := settings.Defaults()
			var data []byte
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(configPath, data, 0o600); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			fmt.Fprintf(a.stdout, "%s Created config file: %s\n", successStyle.Render("✓"), configPath)
			fmt.Fprintln(a.stdout)
			fmt.Fprintln(a.stdout, "Edit this file to set your defaults. For example:")
			fmt.Fprintln(a.stdout, "  - Move the data directory (data-dir)")
			fmt.Fprintln(a.stdout, "  - Set Kaggle credentials (kaggle-username, kaggle-key)")
			fmt.Fprintln(a.stdout, "  - Point font-url at a mirror")

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, path, err := settings.Load(settings.LoadOptions{ConfigFile: a.ro.Config, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			s = s.Redacted()

			if a.ro.JSONOut {
				return writeJSON(a.stdout, map[string]any{"file": path, "settings": s})
			}

			if path == "" {
				fmt.Fprintln(a.stdout, mutedStyle.Render("No config file found; showing defaults."))
				fmt.Fprintln(a.stdout, mutedStyle.Render("Run 'kkrdata config init' to create one."))
			} else {
				fmt.Fprintf(a.stdout, "%s %s\n", titleStyle.Render("Config file:"), path)
			}
			fmt.Fprintln(a.stdout)

			data, err := yaml.Marshal(s)
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, string(data))
			return nil
		},
	}
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.ro.Config != "" {
				fmt.Fprintln(a.stdout, a.ro.Config)
				return nil
			}
			candidates := settings.CandidatePaths()
			if len(candidates) == 0 {
				return fmt.Errorf("could not find home directory")
			}
			for _, p := range candidates {
				if _, err := os.Stat(p); err == nil {
					fmt.Fprintln(a.stdout, p)
					return nil
				}
			}
			fmt.Fprintln(a.stdout, candidates[0])
			return nil
		},
	}
}
