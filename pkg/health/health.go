// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package health

import "time"

// Metrics exposes the current health state of an external collaborator
// (embedding, generation or analysis service). All fields are
// point-in-time snapshots safe to serialize to JSON.
type Metrics struct {
	Collaborator  string     `json:"collaborator,omitempty"`
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}
