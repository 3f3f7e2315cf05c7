// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package provider

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Intent labels produced by LexicalAnalyzer.
const (
	IntentQuestion  = "question"
	IntentRequest   = "request"
	IntentGreeting  = "greeting"
	IntentGratitude = "gratitude"
	IntentStatement = "statement"
)

var (
	questionWords = set("what", "why", "how", "when", "where", "who", "which", "whose", "whom",
		"is", "are", "can", "could", "would", "should", "do", "does", "did", "will")
	requestWords = set("please", "help", "explain", "show", "tell", "write", "create", "make",
		"fix", "find", "give", "list", "describe", "summarize", "remind", "add", "update")
	greetingWords  = set("hi", "hello", "hey", "greetings", "morning", "evening")
	gratitudeWords = set("thanks", "thank", "thx", "appreciate", "grateful")
	negators       = set("not", "no", "never", "don't", "doesn't", "didn't", "isn't", "wasn't", "can't", "won't")
	positiveWords  = set("good", "great", "excellent", "love", "like", "happy", "glad", "nice", "awesome",
		"perfect", "helpful", "thanks", "thank", "amazing", "wonderful", "works", "fine", "enjoy")
	negativeWords = set("bad", "terrible", "awful", "hate", "dislike", "sad", "angry", "broken", "wrong",
		"fail", "failed", "fails", "error", "bug", "annoying", "poor", "worse", "worst", "useless", "problem")
)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func has(m map[string]struct{}, w string) bool {
	_, ok := m[w]
	return ok
}

// LexicalAnalyzer is the offline Analyzer. Entities are capitalized words
// not opening a sentence, plus quoted phrases; intents and sentiment come
// from small word lists.
type LexicalAnalyzer struct{}

func (LexicalAnalyzer) Name() string { return LocalProviderName }

func (LexicalAnalyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	return Analysis{
		Entities:  lexicalEntities(text),
		Intents:   lexicalIntents(text),
		Sentiment: lexicalSentiment(text),
	}, nil
}

type token struct {
	text          string
	sentenceStart bool
}

func tokenize(text string) []token {
	var out []token
	start := true
	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		})
		if word != "" {
			out = append(out, token{text: word, sentenceStart: start})
			start = false
		}
		if strings.ContainsAny(field[len(field)-1:], ".!?") {
			start = true
		}
	}
	return out
}

func lexicalEntities(text string) []string {
	seen := make(map[string]struct{})
	var entities []string
	add := func(e string) {
		key := strings.ToLower(e)
		if e == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		entities = append(entities, e)
	}

	for _, quoted := range quotedPhrases(text) {
		add(quoted)
	}

	toks := tokenize(text)
	for i := 0; i < len(toks); i++ {
		if toks[i].sentenceStart || !startsUpper(toks[i].text) {
			continue
		}
		// Join runs of capitalized words: "New York".
		j := i + 1
		for j < len(toks) && !toks[j].sentenceStart && startsUpper(toks[j].text) {
			j++
		}
		parts := make([]string, 0, j-i)
		for _, t := range toks[i:j] {
			parts = append(parts, t.text)
		}
		add(strings.Join(parts, " "))
		i = j - 1
	}
	return entities
}

func quotedPhrases(text string) []string {
	var out []string
	for {
		open := strings.IndexByte(text, '"')
		if open < 0 {
			return out
		}
		rest := text[open+1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			return out
		}
		if phrase := strings.TrimSpace(rest[:end]); phrase != "" {
			out = append(out, phrase)
		}
		text = rest[end+1:]
	}
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func lexicalIntents(text string) []string {
	toks := tokenize(text)
	var intents []string
	mark := func(intent string) {
		for _, i := range intents {
			if i == intent {
				return
			}
		}
		intents = append(intents, intent)
	}

	if strings.Contains(text, "?") {
		mark(IntentQuestion)
	}
	for i, t := range toks {
		w := strings.ToLower(t.text)
		switch {
		case t.sentenceStart && has(questionWords, w):
			mark(IntentQuestion)
		case (t.sentenceStart || i > 0 && strings.ToLower(toks[i-1].text) == "please") && has(requestWords, w):
			mark(IntentRequest)
		case w == "please":
			mark(IntentRequest)
		case i == 0 && has(greetingWords, w):
			mark(IntentGreeting)
		case has(gratitudeWords, w):
			mark(IntentGratitude)
		}
	}
	if len(intents) == 0 && len(toks) > 0 {
		mark(IntentStatement)
	}
	return intents
}

// lexicalSentiment returns (pos-neg)/(pos+neg) over lexicon hits, with a
// preceding negator flipping polarity.
func lexicalSentiment(text string) float64 {
	var pos, neg float64
	negate := false
	for _, t := range tokenize(text) {
		w := strings.ToLower(t.text)
		if has(negators, w) {
			negate = true
			continue
		}
		positive, negative := has(positiveWords, w), has(negativeWords, w)
		if negate {
			positive, negative = negative, positive
		}
		if positive {
			pos++
		}
		if negative {
			neg++
		}
		negate = false
	}
	if pos+neg == 0 {
		return 0
	}
	return (pos - neg) / (pos + neg)
}

const analyzePrompt = `Extract named entities, user intents and overall sentiment from the text.
Reply with JSON only: {"entities": [string], "intents": [string], "sentiment": number between -1 and 1}.`

// GenerativeAnalyzer asks a Generator for a JSON analysis.
type GenerativeAnalyzer struct {
	gen   Generator
	model string
}

func NewGenerativeAnalyzer(gen Generator, model string) *GenerativeAnalyzer {
	return &GenerativeAnalyzer{gen: gen, model: model}
}

func (a *GenerativeAnalyzer) Name() string { return NameOf(a.gen) }

func (a *GenerativeAnalyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	resp, err := a.gen.Generate(ctx, GenerateRequest{
		Model:        a.model,
		SystemPrompt: analyzePrompt,
		Messages:     []Message{{Role: MessageRoleUser, Content: text}},
		Options:      GenerateOptions{MaxTokens: 512},
	})
	if err != nil {
		return Analysis{}, err
	}
	return ParseAnalysis(resp.Text)
}

// ParseAnalysis decodes a JSON analysis, tolerating surrounding prose or
// code fences. Sentiment is clamped to [-1,1].
func ParseAnalysis(raw string) (Analysis, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return Analysis{}, memerr.New(memerr.CodeProviderUnavailable, "analysis response carries no JSON object")
	}

	var a Analysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return Analysis{}, memerr.Wrap(err, memerr.CodeProviderUnavailable, "decoding analysis response")
	}
	a.Sentiment = max(-1, min(1, a.Sentiment))
	return a, nil
}
