// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package retrieval

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

//go:embed thesaurus.yml
var thesaurusYAML []byte

// Expander widens query terms with related terms. The result maps each
// input term to its expansions; input terms never appear as expansions.
type Expander interface {
	Expand(terms []string) map[string][]string
}

// thesaurusFile is the top-level structure of thesaurus.yml.
type thesaurusFile struct {
	Groups [][]string `yaml:"groups"`
}

// Thesaurus is a synonym-group Expander.
type Thesaurus struct {
	related map[string][]string
}

var (
	builtinOnce sync.Once
	builtin     *Thesaurus
	builtinErr  error
)

// DefaultThesaurus returns the embedded synonym groups, parsed once.
func DefaultThesaurus() (*Thesaurus, error) {
	builtinOnce.Do(func() {
		builtin, builtinErr = ParseThesaurus(thesaurusYAML)
	})
	return builtin, builtinErr
}

// LoadThesaurus reads synonym groups from a YAML file. An empty path
// returns DefaultThesaurus.
func LoadThesaurus(path string) (*Thesaurus, error) {
	if path == "" {
		return DefaultThesaurus()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, memerr.Errorf(memerr.CodeConfigLoadReadFailure, "reading thesaurus %s: %w", path, err)
	}
	return ParseThesaurus(data)
}

// ParseThesaurus builds a Thesaurus from YAML of the form
// `groups: [[a, b], [c, d, e]]`.
func ParseThesaurus(data []byte) (*Thesaurus, error) {
	var f thesaurusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "parsing thesaurus: %w", err)
	}

	sets := make(map[string]map[string]struct{})
	for i, g := range f.Groups {
		terms := normalizeGroup(g)
		if len(terms) < 2 {
			return nil, memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
				"thesaurus group %d needs at least two distinct terms", i)
		}
		for _, t := range terms {
			if sets[t] == nil {
				sets[t] = make(map[string]struct{})
			}
			for _, o := range terms {
				if o != t {
					sets[t][o] = struct{}{}
				}
			}
		}
	}

	th := &Thesaurus{related: make(map[string][]string, len(sets))}
	for t, rel := range sets {
		list := make([]string, 0, len(rel))
		for r := range rel {
			list = append(list, r)
		}
		sort.Strings(list)
		th.related[t] = list
	}
	return th, nil
}

func normalizeGroup(g []string) []string {
	seen := make(map[string]struct{}, len(g))
	out := make([]string, 0, len(g))
	for _, t := range g {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Expand implements Expander.
func (th *Thesaurus) Expand(terms []string) map[string][]string {
	original := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		original[t] = struct{}{}
	}

	out := make(map[string][]string)
	for _, t := range terms {
		var exp []string
		for _, r := range th.related[t] {
			if _, ok := original[r]; ok {
				continue
			}
			exp = append(exp, r)
		}
		if len(exp) > 0 {
			out[t] = exp
		}
	}
	return out
}

// Len is the number of terms with at least one synonym.
func (th *Thesaurus) Len() int { return len(th.related) }
