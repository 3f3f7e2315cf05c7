// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

//go:build windows

package config

import "log/slog"

// CheckPermissions is a no-op on Windows, where ACLs replace mode bits.
func CheckPermissions(path string) bool {
	if path != "" {
		slog.Debug("config permission check not implemented on Windows", "path", path)
	}
	return false
}
