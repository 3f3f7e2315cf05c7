// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

import (
	"strings"
	"unicode"
)

// Terms splits text into lowercase index terms on any rune that is not a
// letter or digit. Both keyword backends and query processing use it so
// that index and query agree on term boundaries.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TermFrequencies counts occurrences of each wanted term in text.
func TermFrequencies(text string, wanted []string) map[string]int {
	want := make(map[string]struct{}, len(wanted))
	for _, w := range wanted {
		want[strings.ToLower(w)] = struct{}{}
	}

	tf := make(map[string]int, len(wanted))
	for _, term := range Terms(text) {
		if _, ok := want[term]; ok {
			tf[term]++
		}
	}
	return tf
}
