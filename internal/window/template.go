// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package window

import (
	_ "embed"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

//go:embed templates.yml
var templatesYAML []byte

// State is the conversation state a template is chosen for.
type State string

const (
	StateFresh      State = "fresh"
	StateContinuing State = "continuing"
	StateResumed    State = "resumed_after_gap"
	StateMultiTopic State = "multi_topic"
)

// States lists every state a catalogue must cover.
var States = []State{StateFresh, StateContinuing, StateResumed, StateMultiTopic}

// Section names a part of the window.
type Section string

const (
	SectionSystem       Section = "system_instruction"
	SectionTopicSummary Section = "topic_summary"
	SectionRecent       Section = "recent_exchanges"
	SectionRetrieved    Section = "retrieved_context"
	SectionQuery        Section = "user_query"
)

func (s Section) valid() bool {
	switch s {
	case SectionSystem, SectionTopicSummary, SectionRecent, SectionRetrieved, SectionQuery:
		return true
	default:
		return false
	}
}

// SectionSpec is one slot of a template.
type SectionSpec struct {
	Name     Section `yaml:"name"`
	Heading  string  `yaml:"heading"`
	Required bool    `yaml:"required"`
}

// Template is the ordered section layout for one state.
type Template struct {
	State    State         `yaml:"state"`
	Sections []SectionSpec `yaml:"sections"`
}

// Catalogue holds one template per state.
type Catalogue map[State]Template

type catalogueFile struct {
	Templates []Template `yaml:"templates"`
}

var (
	defaultOnce sync.Once
	defaultCat  Catalogue
	defaultErr  error
)

// DefaultCatalogue returns the embedded templates, parsed once.
func DefaultCatalogue() (Catalogue, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = ParseCatalogue(templatesYAML)
	})
	return defaultCat, defaultErr
}

// LoadCatalogue reads templates from a YAML file. An empty path returns
// DefaultCatalogue.
func LoadCatalogue(path string) (Catalogue, error) {
	if path == "" {
		return DefaultCatalogue()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, memerr.Errorf(memerr.CodeConfigLoadReadFailure, "reading window templates %s: %w", path, err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue parses and validates a template catalogue. Every state
// must have a template, and every template must end the window with the
// user query.
func ParseCatalogue(data []byte) (Catalogue, error) {
	var f catalogueFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, memerr.Errorf(memerr.CodeWindowTemplateInvalid, "parsing window templates: %w", err)
	}

	cat := make(Catalogue, len(f.Templates))
	for _, t := range f.Templates {
		if _, dup := cat[t.State]; dup {
			return nil, memerr.Errorf(memerr.CodeWindowTemplateInvalid, "duplicate template for state %q", t.State)
		}
		if err := t.validate(); err != nil {
			return nil, err
		}
		cat[t.State] = t
	}
	for _, s := range States {
		if _, ok := cat[s]; !ok {
			return nil, memerr.Errorf(memerr.CodeWindowTemplateInvalid, "no template for state %q", s)
		}
	}
	return cat, nil
}

func (t Template) validate() error {
	known := false
	for _, s := range States {
		known = known || s == t.State
	}
	if !known {
		return memerr.Errorf(memerr.CodeWindowTemplateInvalid, "unknown template state %q", t.State)
	}
	if len(t.Sections) == 0 {
		return memerr.Errorf(memerr.CodeWindowTemplateInvalid, "template %q has no sections", t.State)
	}

	seen := make(map[Section]struct{}, len(t.Sections))
	for _, s := range t.Sections {
		if !s.Name.valid() {
			return memerr.Errorf(memerr.CodeWindowTemplateInvalid, "template %q: unknown section %q", t.State, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return memerr.Errorf(memerr.CodeWindowTemplateInvalid, "template %q: section %q repeated", t.State, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	if last := t.Sections[len(t.Sections)-1]; last.Name != SectionQuery {
		return memerr.Errorf(memerr.CodeWindowTemplateInvalid, "template %q must end with %s", t.State, SectionQuery)
	}
	return nil
}
