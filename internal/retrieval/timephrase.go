// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package retrieval

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/memorg-dev/memorg/internal/store"
)

var (
	relativeSpan = regexp.MustCompile(`\b(?:last|past|previous)\s+(\d{1,4})\s+(minute|hour|day|week|month)s?\b`)
	namedSpan    = regexp.MustCompile(`\b(?:last|past|previous|this)\s+(hour|day|week|month)\b`)
	dayWord      = regexp.MustCompile(`\b(today|yesterday|tonight|this morning|earlier today)\b`)
)

var unitDuration = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
}

// ParseTimeRange extracts a time window from phrases such as "yesterday",
// "last week" or "past 3 days", relative to now. The first phrase found
// wins. ok is false when the text names no window.
func ParseTimeRange(text string, now time.Time) (rng store.TimeRange, ok bool) {
	lower := strings.ToLower(text)

	if m := relativeSpan.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return store.TimeRange{From: now.Add(-time.Duration(n) * unitDuration[m[2]])}, true
		}
	}
	if m := namedSpan.FindStringSubmatch(lower); m != nil {
		return store.TimeRange{From: now.Add(-unitDuration[m[1]])}, true
	}
	if m := dayWord.FindStringSubmatch(lower); m != nil {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if m[1] == "yesterday" {
			return store.TimeRange{From: midnight.AddDate(0, 0, -1), To: midnight}, true
		}
		return store.TimeRange{From: midnight, To: midnight.AddDate(0, 0, 1)}, true
	}
	return store.TimeRange{}, false
}
