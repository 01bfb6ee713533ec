// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package topic defines the topics posts are written about and resolves topic
// requests against the configured list.
package topic

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// MachineLearning is the name of the machine learning news topic. It is the
// default topic and always uses web search.
const MachineLearning = "Новости машинного обучения и нейросетей"

// ErrInvalidIndex is returned when a topic index is out of range or is not a
// number.
var ErrInvalidIndex = errors.New("invalid topic index")

// Topic is a content category with per-language instructions.
type Topic struct {
	// Name is the unique display name of the topic. It also keys the post
	// history.
	Name string `yaml:"name" json:"name"`
	// Prompts maps a language code to the generation instruction.
	Prompts map[string]string `yaml:"prompts" json:"prompts"`
	// ImagePrompts maps a language code to the image generation instruction.
	ImagePrompts map[string]string `yaml:"image_prompts,omitempty" json:"image_prompts,omitempty"`
	// Feeds are RSS or Atom feeds with news on the topic.
	Feeds []string `yaml:"feeds,omitempty" json:"feeds,omitempty"`
	// WebSearch marks topics generated with web search when it is enabled
	// globally.
	WebSearch bool `yaml:"web_search,omitempty" json:"web_search,omitempty"`
}

// Prompt returns the instruction for lang, falling back to English and then
// to any available language.
func (t Topic) Prompt(lang string) string { return localized(t.Prompts, lang) }

// ImagePrompt is like Prompt, but for image instructions.
func (t Topic) ImagePrompt(lang string) string { return localized(t.ImagePrompts, lang) }

func localized(m map[string]string, lang string) string {
	if s := m[lang]; s != "" {
		return s
	}
	if s := m["en"]; s != "" {
		return s
	}
	for _, s := range m {
		if s != "" {
			return s
		}
	}
	return ""
}

// Selector resolves topic requests. It is immutable and safe for concurrent
// use.
type Selector struct {
	topics      []Topic
	defaultName string
	intn        func(n int) int
}

// NewSelector returns a Selector over topics. The topic named defaultName, if
// present, is returned by Default.
func NewSelector(topics []Topic, defaultName string) (*Selector, error) {
	if err := Validate(topics); err != nil {
		return nil, err
	}
	return &Selector{
		topics:      topics,
		defaultName: defaultName,
		intn:        rand.IntN,
	}, nil
}

// Validate checks that topics is not empty and that every topic has a unique
// name and at least one prompt.
func Validate(topics []Topic) error {
	if len(topics) == 0 {
		return errors.New("no topics configured")
	}
	seen := make(map[string]bool)
	for i, t := range topics {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("topic %d has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate topic %q", t.Name)
		}
		seen[t.Name] = true
		if t.Prompt("en") == "" {
			return fmt.Errorf("topic %q has no prompts", t.Name)
		}
	}
	return nil
}

// Topics returns the configured topics in order.
func (s *Selector) Topics() []Topic { return s.topics }

// Len returns the number of topics.
func (s *Selector) Len() int { return len(s.topics) }

// DefaultName returns the configured default topic name.
func (s *Selector) DefaultName() string { return s.defaultName }

// ByIndex returns the topic at index i.
func (s *Selector) ByIndex(i int) (Topic, error) {
	if i < 0 || i >= len(s.topics) {
		return Topic{}, fmt.Errorf("%w: %d, want 0 to %d", ErrInvalidIndex, i, len(s.topics)-1)
	}
	return s.topics[i], nil
}

// ByName returns the index of the first topic named name.
func (s *Selector) ByName(name string) (int, bool) {
	for i, t := range s.topics {
		if t.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Default returns the index of the default topic. If there is no such topic,
// it returns 0 and false; callers should warn about it.
func (s *Selector) Default() (int, bool) {
	return s.ByName(s.defaultName)
}

// Random returns the index of a random topic, preferring the ones for which
// recent returns false. If every topic was posted recently, any topic may be
// returned.
func (s *Selector) Random(recent func(name string) bool) int {
	var candidates []int
	for i, t := range s.topics {
		if recent == nil || !recent(t.Name) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return s.intn(len(s.topics))
	}
	return candidates[s.intn(len(candidates))]
}

// ParseIndex converts user input into a topic index. It doesn't check the
// range; use ByIndex for that.
func ParseIndex(s string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidIndex, s)
	}
	return i, nil
}
