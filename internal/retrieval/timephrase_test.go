// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package retrieval_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/memorg-dev/memorg/internal/retrieval"
	"github.com/memorg-dev/memorg/internal/store"
)

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	midnight := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		text string
		want store.TimeRange
		ok   bool
	}{
		{"what did we say today", store.TimeRange{From: midnight, To: midnight.AddDate(0, 0, 1)}, true},
		{"Yesterday's plan", store.TimeRange{From: midnight.AddDate(0, 0, -1), To: midnight}, true},
		{"anything from last week?", store.TimeRange{From: now.Add(-7 * 24 * time.Hour)}, true},
		{"in the past 3 days", store.TimeRange{From: now.Add(-72 * time.Hour)}, true},
		{"over the last 2 hours", store.TimeRange{From: now.Add(-2 * time.Hour)}, true},
		{"previous 1 month", store.TimeRange{From: now.Add(-30 * 24 * time.Hour)}, true},
		{"the last 0 days", store.TimeRange{}, false},
		{"postgres migration", store.TimeRange{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := retrieval.ParseTimeRange(tt.text, now)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.From.Equal(got.From), "from %s, want %s", got.From, tt.want.From)
			assert.True(t, tt.want.To.Equal(got.To), "to %s, want %s", got.To, tt.want.To)
		})
	}
}
