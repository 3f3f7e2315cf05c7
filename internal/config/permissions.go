// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// secretsExposed are the permission bits that let other users read a file.
const secretsExposed fs.FileMode = 0o044

// CheckPermissions reports whether the config file at path is readable by
// group or others, logging a warning if so. Provider API keys live there.
func CheckPermissions(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("config permission check skipped", "path", path, "error", err)
		return false
	}
	if info.Mode().Perm()&secretsExposed == 0 {
		return false
	}
	slog.Warn("config file is readable by other users and may expose provider api keys",
		"path", path, "mode", info.Mode().Perm(), "recommended", "0600")
	return true
}
