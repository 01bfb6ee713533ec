// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package topic

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var defaultTopics []byte

// Load reads topics from path. Files ending with .star are evaluated as
// Starlark, anything else is parsed as YAML. An empty path loads the built-in
// topics.
func Load(path string, logger *slog.Logger) ([]Topic, error) {
	if path == "" {
		return parseYAML(defaultTopics)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var topics []Topic
	if filepath.Ext(path) == ".star" {
		topics, err = parseStarlark(filepath.Base(path), b, logger)
	} else {
		topics, err = parseYAML(b)
	}
	if err != nil {
		return nil, fmt.Errorf("loading topics from %s: %w", path, err)
	}
	return topics, Validate(topics)
}

// Default returns the built-in topics.
func Default() []Topic {
	topics, err := parseYAML(defaultTopics)
	if err != nil {
		panic(err)
	}
	return topics
}

type yamlFile struct {
	Topics []Topic `yaml:"topics"`
}

func parseYAML(b []byte) ([]Topic, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var f yamlFile
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return f.Topics, nil
}

// starTopic is the value returned by the topic builtin.
type starTopic struct{ Topic }

func (t *starTopic) String() string        { return fmt.Sprintf("<topic name=%q>", t.Name) }
func (t *starTopic) Type() string          { return "topic" }
func (t *starTopic) Freeze()               {} // immutable
func (t *starTopic) Truth() starlark.Bool  { return starlark.Bool(t.Name != "") }
func (t *starTopic) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", t.Type()) }

func topicBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: unexpected positional arguments", b.Name())
	}
	var (
		t            = new(starTopic)
		prompts      *starlark.Dict
		imagePrompts *starlark.Dict
		feeds        *starlark.List
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &t.Name,
		"prompts", &prompts,
		"image_prompts?", &imagePrompts,
		"feeds?", &feeds,
		"web_search?", &t.WebSearch,
	); err != nil {
		return nil, err
	}

	var err error
	if t.Prompts, err = stringDict(prompts); err != nil {
		return nil, fmt.Errorf("%s: prompts: %w", b.Name(), err)
	}
	if imagePrompts != nil {
		if t.ImagePrompts, err = stringDict(imagePrompts); err != nil {
			return nil, fmt.Errorf("%s: image_prompts: %w", b.Name(), err)
		}
	}
	if feeds != nil {
		for i := range feeds.Len() {
			s, ok := starlark.AsString(feeds.Index(i))
			if !ok {
				return nil, fmt.Errorf("%s: feeds: element %d is %s, want string", b.Name(), i, feeds.Index(i).Type())
			}
			t.Feeds = append(t.Feeds, s)
		}
	}
	return t, nil
}

func stringDict(d *starlark.Dict) (map[string]string, error) {
	m := make(map[string]string, d.Len())
	for _, item := range d.Items() {
		k, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("key %s is not a string", item[0])
		}
		v, ok := starlark.AsString(item[1])
		if !ok {
			return nil, fmt.Errorf("value of %q is not a string", k)
		}
		m[k] = v
	}
	return m, nil
}

func parseStarlark(filename string, src []byte, logger *slog.Logger) ([]Topic, error) {
	if logger == nil {
		logger = slog.Default()
	}
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		&starlark.Thread{
			Name:  filename,
			Print: func(_ *starlark.Thread, msg string) { logger.Info(msg, "file", filename) },
		},
		filename,
		src,
		starlark.StringDict{
			"topic": starlark.NewBuiltin("topic", topicBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	list, ok := globals["topics"].(*starlark.List)
	if !ok {
		return nil, errors.New("topics must be defined and be a list")
	}

	var topics []Topic
	for i := range list.Len() {
		t, ok := list.Index(i).(*starTopic)
		if !ok {
			return nil, fmt.Errorf("topics: element %d is %s, want topic", i, list.Index(i).Type())
		}
		topics = append(topics, t.Topic)
	}
	return topics, nil
}
