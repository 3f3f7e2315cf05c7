// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package window renders working memory into the bounded payload handed
// to the generation model.
package window

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/tokens"
	"github.com/memorg-dev/memorg/internal/workmem"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const (
	sectionSeparator = "\n\n"
	itemSeparator    = "\n\n"
)

// Config parameterises an Assembler.
type Config struct {
	// GapThreshold is the idle time after which a session counts as
	// resumed.
	GapThreshold time.Duration `mapstructure:"gap_threshold"`
	// TemplatesPath replaces the built-in template catalogue.
	TemplatesPath     string `mapstructure:"templates_path"`
	SystemInstruction string `mapstructure:"system_instruction"`
}

func DefaultConfig() Config {
	return Config{
		GapThreshold:      6 * time.Hour,
		SystemInstruction: "You are a helpful assistant with long-term memory of this conversation. Use the memory below when it is relevant and say so when it is not enough.",
	}
}

func (c Config) Validate() error {
	if c.GapThreshold <= 0 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "gap_threshold must be > 0, got %s", c.GapThreshold)
	}
	return nil
}

// Assembler selects templates and renders payloads.
type Assembler struct {
	cfg       Config
	catalogue Catalogue
	counter   tokens.Counter
	logger    *slog.Logger
}

// New creates an Assembler. counter measures section sizes.
func New(cfg Config, counter tokens.Counter, logger *slog.Logger) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cat, err := LoadCatalogue(cfg.TemplatesPath)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = tokens.Estimator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{cfg: cfg, catalogue: cat, counter: counter, logger: logger}, nil
}

// SystemInstruction is the configured system section text.
func (a *Assembler) SystemInstruction() string { return a.cfg.SystemInstruction }

// StateInput describes the session at the start of a turn.
type StateInput struct {
	Now time.Time
	// LastActivity is when the previous exchange was recorded.
	LastActivity time.Time
	// PriorExchanges counts exchanges before this turn.
	PriorExchanges int
	// Topics are the topic ids represented in working memory.
	Topics []string
}

// SelectState classifies the session: fresh without history, resumed
// after an idle gap, multi-topic when working memory spans topics, and
// continuing otherwise.
func (a *Assembler) SelectState(in StateInput) State {
	switch {
	case in.PriorExchanges == 0:
		return StateFresh
	case !in.LastActivity.IsZero() && in.Now.Sub(in.LastActivity) >= a.cfg.GapThreshold:
		return StateResumed
	}
	distinct := make(map[string]struct{}, len(in.Topics))
	for _, t := range in.Topics {
		if t != "" {
			distinct[t] = struct{}{}
		}
	}
	if len(distinct) > 1 {
		return StateMultiTopic
	}
	return StateContinuing
}

// Template returns the template for s.
func (a *Assembler) Template(s State) (Template, error) {
	t, ok := a.catalogue[s]
	if !ok {
		return Template{}, memerr.Errorf(memerr.CodeWindowTemplateInvalid, "no template for state %q", s)
	}
	return t, nil
}

// Partition assigns allocated items to sections. Aggregates go to the
// topic summary, exchanges named in recent to the recent exchanges in
// chronological order, and everything else to retrieved context in
// allocation order.
func Partition(items []workmem.Item, recent map[string]bool) map[Section][]workmem.Item {
	parts := make(map[Section][]workmem.Item)
	for _, it := range items {
		switch {
		case it.Ref.Kind == store.KindTopic || it.Ref.Kind == store.KindConversation || it.Ref.Kind == store.KindSummary:
			parts[SectionTopicSummary] = append(parts[SectionTopicSummary], it)
		case recent[it.Ref.ID]:
			parts[SectionRecent] = append(parts[SectionRecent], it)
		default:
			parts[SectionRetrieved] = append(parts[SectionRetrieved], it)
		}
	}
	rec := parts[SectionRecent]
	sort.SliceStable(rec, func(i, j int) bool {
		if !rec[i].Timestamp.Equal(rec[j].Timestamp) {
			return rec[i].Timestamp.Before(rec[j].Timestamp)
		}
		return rec[i].Ref.ID < rec[j].Ref.ID
	})
	return parts
}

// Fill is the content for FillTemplate.
type Fill struct {
	System string
	Parts  map[Section][]workmem.Item
	Query  string
}

// SectionReport describes one rendered section.
type SectionReport struct {
	Name   Section
	Items  int
	Tokens int
}

// Composition summarises what went into a payload.
type Composition struct {
	State State
	// Items counts memory items across sections.
	Items          int
	Compressed     int
	SummaryOnly    int
	Pinned         int
	Tokens         int
	OriginalTokens int
	// Ratio is item tokens over their pre-compression cost.
	Ratio    float64
	Sections []SectionReport
}

// Payload is the assembled window.
type Payload struct {
	Text        string
	Composition Composition
}

// FillTemplate renders tpl with the given content. Empty optional sections
// are omitted; an empty required section is a validation error.
func (a *Assembler) FillTemplate(tpl Template, in Fill) (Payload, error) {
	comp := Composition{State: tpl.State}
	var (
		blocks    []string
		itemTotal int
	)
	for _, spec := range tpl.Sections {
		var (
			body  string
			items []workmem.Item
		)
		switch spec.Name {
		case SectionSystem:
			body = strings.TrimSpace(in.System)
		case SectionQuery:
			body = strings.TrimSpace(in.Query)
		default:
			items = in.Parts[spec.Name]
			texts := make([]string, 0, len(items))
			for _, it := range items {
				if t := strings.TrimSpace(it.Content); t != "" {
					texts = append(texts, t)
				}
			}
			body = strings.Join(texts, itemSeparator)
		}

		if body == "" {
			if spec.Required {
				return Payload{}, memerr.New(memerr.CodeWindowSectionMissing,
					"required section has no content",
					memerr.Field("section", string(spec.Name)), memerr.Field("state", string(tpl.State)))
			}
			continue
		}

		block := render(spec, body)
		blocks = append(blocks, block)
		comp.Sections = append(comp.Sections, SectionReport{
			Name:   spec.Name,
			Items:  len(items),
			Tokens: a.counter.Count(block),
		})
		for _, it := range items {
			comp.Items++
			itemTotal += it.Tokens
			comp.OriginalTokens += it.OriginalTokens
			if it.Compressed {
				comp.Compressed++
			}
			if it.SummaryOnly {
				comp.SummaryOnly++
			}
			if it.Pinned {
				comp.Pinned++
			}
		}
	}

	text := strings.Join(blocks, sectionSeparator)
	comp.Tokens = a.counter.Count(text)
	comp.Ratio = 1
	if comp.OriginalTokens > 0 {
		comp.Ratio = float64(itemTotal) / float64(comp.OriginalTokens)
	}

	a.logger.Debug("assembled window",
		"state", tpl.State, "items", comp.Items, "tokens", comp.Tokens, "ratio", comp.Ratio)
	return Payload{Text: text, Composition: comp}, nil
}

// Overhead is the cost of a template's fixed text: the system
// instruction, the query, every heading and the separators between
// sections. Item content and item separators are not included.
func (a *Assembler) Overhead(tpl Template, system, query string) int {
	var blocks []string
	for _, spec := range tpl.Sections {
		switch spec.Name {
		case SectionSystem:
			if s := strings.TrimSpace(system); s != "" {
				blocks = append(blocks, render(spec, s))
			}
		case SectionQuery:
			if q := strings.TrimSpace(query); q != "" {
				blocks = append(blocks, render(spec, q))
			}
		default:
			blocks = append(blocks, render(spec, ""))
		}
	}
	return a.counter.Count(strings.Join(blocks, sectionSeparator))
}

func render(spec SectionSpec, body string) string {
	if spec.Heading == "" {
		return body
	}
	return "## " + spec.Heading + "\n" + body
}
