// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package compress

import (
	"strings"
	"unicode"
)

// SplitSentences breaks text at sentence terminators followed by
// whitespace and at line breaks. Terminators stay with their sentence;
// surrounding whitespace is trimmed and empty pieces are dropped.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	emit := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i, r := range runes {
		switch {
		case r == '\n':
			emit(i + 1)
		case r == '.' || r == '!' || r == '?':
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				emit(i + 1)
			}
		}
	}
	emit(len(runes))
	return out
}
