// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Inspect and edit the configuration file.

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hala3amme/ezyskills/internal/config"
)

func (a *App) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Long: `Show or change settings in dot notation, for example:

  ezy config set api.base_url https://api.example.com
  ezy config get realtime.port

Values shown by get and list include environment overrides.`,
	}
	cmd.AddCommand(
		a.newConfigListCmd(),
		a.newConfigGetCmd(),
		a.newConfigSetCmd(),
		a.newConfigPathCmd(),
	)
	return cmd
}

func (a *App) newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every setting",
		Args:  exactArgs(),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]interface{})
			for _, key := range config.GetAllKeys() {
				v, err := a.cfg.Get(key)
				if err != nil {
					return err
				}
				values[key] = redact(key, v)
			}
			return a.emit("config list", values, func(w io.Writer) {
				for _, key := range config.GetAllKeys() {
					fmt.Fprintln(w, RenderLabel(key, 24)+ValueStyle.Render(fmt.Sprint(values[key])))
				}
			})
		},
	}
}

func (a *App) newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show one setting",
		Args:  exactArgs("key"),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return &ValidationError{Field: "key", Value: args[0], Reason: "unknown setting", Example: "ezy config list"}
			}
			return a.emit("config get", map[string]interface{}{args[0]: v}, func(w io.Writer) {
				fmt.Fprintln(w, v)
			})
		},
	}
}

func (a *App) newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "set <key> <value>",
		Short:       "Change one setting and save the file",
		Args:        exactArgs("key", "value"),
		Annotations: map[string]string{annotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFilePath()
			if err != nil {
				return err
			}
			cfg, err := readConfigFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return &ValidationError{Field: args[0], Value: args[1], Reason: err.Error(), Example: "ezy config list"}
			}
			cfg.SetDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := writeConfigFile(cfg, path); err != nil {
				return err
			}
			a.logger.Debug("config saved", "path", path, "key", args[0])

			v, _ := cfg.Get(args[0])
			return a.emit("config set", map[string]interface{}{args[0]: redact(args[0], v)}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s = %v\n", SuccessStyle.Render("[OK]"), args[0], redact(args[0], v))
			})
		},
	}
}

func (a *App) newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the configuration file path",
		Args:        exactArgs(),
		Annotations: map[string]string{annotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFilePath()
			if err != nil {
				return err
			}
			return a.emit("config path", map[string]string{"path": path}, func(w io.Writer) {
				fmt.Fprintln(w, path)
			})
		},
	}
}

func (a *App) configFilePath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	path, err := config.ConfigPathTOML()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return path, nil
}

// readConfigFile loads path without environment overrides so that saving
// does not persist them. A missing file yields the defaults.
func readConfigFile(path string) (*config.Config, error) {
	cfg := config.Default()
	load := config.LoadTOML
	if strings.HasSuffix(path, ".json") {
		load = config.LoadJSON
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err := load(cfg, path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return cfg, nil
}

func writeConfigFile(cfg *config.Config, path string) error {
	save := config.SaveTOML
	if strings.HasSuffix(path, ".json") {
		save = config.SaveJSON
	}
	if err := save(cfg, path); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func redact(key string, v interface{}) interface{} {
	if key == "realtime.app_key" {
		if s, _ := v.(string); s != "" {
			return "[REDACTED]"
		}
	}
	return v
}
