// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for ezy.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: main configuration structure
//   - APIConfig: REST backend origin and timeout
//   - RealtimeConfig: Reverb socket settings; no app key disables realtime
//   - StorageConfig: credential backend (file or sqlite) and state directory
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (EZY_*)
//   - ~/.ezy/config.toml
//   - ~/.ezy/config.json
//   - Built-in defaults
//
// EZY_STATE_DIR relocates the whole ~/.ezy directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	endpoint := cfg.Realtime.Endpoint(cfg.API.BaseURL)
package config
