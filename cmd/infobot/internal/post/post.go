// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package post generates posts about topics and publishes them.
package post

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.astrophena.name/infobot/cmd/infobot/internal/history"
	"go.astrophena.name/infobot/cmd/infobot/internal/prompt"
	"go.astrophena.name/infobot/cmd/infobot/internal/topic"
	"go.astrophena.name/infobot/internal/syncx"

	"github.com/google/uuid"
)

// ErrNoContent is recorded as the cause when every generation strategy
// failed and a placeholder was published instead.
var ErrNoContent = errors.New("no content generated")

// Generator produces post text and images.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithSearch(ctx context.Context, prompt, topicName string) (string, error)
	GenerateImage(ctx context.Context, prompt, topicName string) (path string, err error)
}

// Publisher delivers posts to the channel.
type Publisher interface {
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, path, caption string) error
}

// History is the part of the history store used by the Orchestrator.
type History interface {
	prompt.History
	AddPost(topic, content string)
	WasRecentlyPosted(topic string, threshold time.Duration) bool
}

// News returns recent headlines from feeds.
type News interface {
	Headlines(ctx context.Context, feeds []string) []prompt.Headline
}

// Timeouts limit external calls.
type Timeouts struct {
	Generate time.Duration
	Search   time.Duration
	Image    time.Duration
	Publish  time.Duration
	News     time.Duration
}

// DefaultTimeouts are used for zero fields of Config.Timeouts.
var DefaultTimeouts = Timeouts{
	Generate: 45 * time.Second,
	Search:   60 * time.Second,
	Image:    60 * time.Second,
	Publish:  30 * time.Second,
	News:     15 * time.Second,
}

// Config configures an Orchestrator.
type Config struct {
	Topics    *topic.Selector
	History   History
	Generator Generator
	Publisher Publisher
	// News is optional. Without it, feeds of topics are ignored.
	News News
	Lang prompt.Lang
	// WebSearch enables web search for topics that ask for it. The machine
	// learning news topic uses web search regardless.
	WebSearch bool
	// Images enables image generation.
	Images bool
	// Window is the number of previous posts quoted in prompts.
	Window int
	// Recency is how long a topic counts as recently posted for
	// PublishRandom. Defaults to history.DefaultRecency.
	Recency  time.Duration
	Timeouts Timeouts
	Logger   *slog.Logger
}

// Result describes a published post.
type Result struct {
	RunID   string `json:"run_id"`
	Index   int    `json:"index"`
	Topic   string `json:"topic"`
	Content string `json:"content"`
	// Strategy is the generation strategy that succeeded. It's empty when
	// the placeholder was used.
	Strategy string `json:"strategy,omitempty"`
	Image    string `json:"image,omitempty"`
}

// Placeholder reports whether the post is a placeholder.
func (r Result) Placeholder() bool { return r.Strategy == "" }

// Orchestrator runs the post pipeline. It is safe for concurrent use; posts
// about the same topic are serialized.
type Orchestrator struct {
	cfg      Config
	enhancer *prompt.Enhancer
	locks    syncx.KeyedMutex[string]
	log      *slog.Logger
	now      func() time.Time
	newRunID func() string
}

// New returns a new Orchestrator.
func New(cfg Config) *Orchestrator {
	cfg.Lang = cmp.Or(cfg.Lang, prompt.English)
	cfg.Recency = cmp.Or(cfg.Recency, history.DefaultRecency)
	cfg.Timeouts.Generate = cmp.Or(cfg.Timeouts.Generate, DefaultTimeouts.Generate)
	cfg.Timeouts.Search = cmp.Or(cfg.Timeouts.Search, DefaultTimeouts.Search)
	cfg.Timeouts.Image = cmp.Or(cfg.Timeouts.Image, DefaultTimeouts.Image)
	cfg.Timeouts.Publish = cmp.Or(cfg.Timeouts.Publish, DefaultTimeouts.Publish)
	cfg.Timeouts.News = cmp.Or(cfg.Timeouts.News, DefaultTimeouts.News)

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		cfg: cfg,
		enhancer: &prompt.Enhancer{
			History: cfg.History,
			Window:  cfg.Window,
			Lang:    cfg.Lang,
			Logger:  log,
		},
		log:      log,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// PublishDefault publishes a post about the default topic, or about the
// first topic if the default one isn't configured.
func (o *Orchestrator) PublishDefault(ctx context.Context) (Result, error) {
	i, ok := o.cfg.Topics.Default()
	if !ok {
		o.log.Warn("default topic not found, using the first topic", "default", o.cfg.Topics.DefaultName(), "index", i)
	}
	return o.PublishTopic(ctx, i)
}

// PublishRandom publishes a post about a random topic, preferring topics that
// weren't posted recently.
func (o *Orchestrator) PublishRandom(ctx context.Context) (Result, error) {
	i := o.cfg.Topics.Random(func(name string) bool {
		return o.cfg.History.WasRecentlyPosted(name, o.cfg.Recency)
	})
	return o.PublishTopic(ctx, i)
}

// PublishAll publishes a post about every topic in order. It continues after
// failures and returns all of them.
func (o *Orchestrator) PublishAll(ctx context.Context) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for i := range o.cfg.Topics.Len() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := o.PublishTopic(ctx, i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// PublishTopic generates a post about the topic at index, records it in the
// history and publishes it.
//
// An invalid index fails with topic.ErrInvalidIndex before anything else
// happens. If every generation strategy fails, a placeholder is recorded and
// published. Image failures are logged and the post goes out without an
// image. A publishing error is returned after the content was recorded.
func (o *Orchestrator) PublishTopic(ctx context.Context, index int) (Result, error) {
	tp, err := o.cfg.Topics.ByIndex(index)
	if err != nil {
		return Result{}, err
	}

	res := Result{RunID: o.newRunID(), Index: index, Topic: tp.Name}
	log := o.log.With("run_id", res.RunID, "topic", tp.Name)

	unlock := o.locks.Lock(tp.Name)
	defer unlock()

	// External calls finish even if the trigger goes away, so that whatever
	// was generated gets recorded.
	ctx = context.WithoutCancel(ctx)

	log.Info("selected topic", "index", index)

	now := o.now()
	p := o.cfg.Lang.Base(tp.Prompt(string(o.cfg.Lang)), now)
	p = o.enhancer.Enhance(tp.Name, p)

	ml := tp.Name == topic.MachineLearning
	search := ml || (o.cfg.WebSearch && tp.WebSearch)
	if search {
		p += o.cfg.Lang.SearchInstructions(ml, now)
	}
	if o.cfg.News != nil && len(tp.Feeds) > 0 {
		nctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.News)
		headlines := o.cfg.News.Headlines(nctx, tp.Feeds)
		cancel()
		log.Debug("fetched headlines", "count", len(headlines))
		p = o.cfg.Lang.WithHeadlines(p, headlines)
	}
	log.Debug("prompt ready", "search", search, "length", len(p))

	res.Content, res.Strategy = o.generate(ctx, log, tp.Name, p, search)
	if res.Placeholder() {
		log.Error("all generation strategies failed, using placeholder", "err", ErrNoContent)
		res.Content = o.cfg.Lang.Placeholder(tp.Name)
	} else {
		log.Info("generated content", "strategy", res.Strategy, "length", len(res.Content))
	}

	o.cfg.History.AddPost(tp.Name, res.Content)
	log.Debug("recorded content in history")

	if o.cfg.Images {
		if instruction := tp.ImagePrompt(string(o.cfg.Lang)); instruction != "" {
			ictx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Image)
			path, err := o.cfg.Generator.GenerateImage(ictx, o.cfg.Lang.Image(instruction), tp.Name)
			cancel()
			if err != nil {
				log.Error("generating image failed, posting without it", "err", err)
			} else {
				res.Image = path
				log.Info("generated image", "path", path)
			}
		}
	}

	text := prompt.Header(tp.Name) + res.Content
	pctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Publish)
	defer cancel()
	if res.Image != "" {
		err = o.cfg.Publisher.SendPhoto(pctx, res.Image, text)
	} else {
		err = o.cfg.Publisher.SendText(pctx, text)
	}
	if err != nil {
		return res, fmt.Errorf("publishing post about %q: %w", tp.Name, err)
	}

	log.Info("published post", "image", res.Image != "")
	return res, nil
}

type strategy struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context) (string, error)
}

// generate tries strategies in order and returns the content and the name
// of the first one that succeeded. Both are empty if all of them failed.
func (o *Orchestrator) generate(ctx context.Context, log *slog.Logger, topicName, p string, search bool) (content, name string) {
	plain := strategy{
		name:    "plain",
		timeout: o.cfg.Timeouts.Generate,
		run: func(ctx context.Context) (string, error) {
			return o.cfg.Generator.Generate(ctx, p)
		},
	}
	strategies := []strategy{plain}
	if search {
		strategies = []strategy{{
			name:    "search",
			timeout: o.cfg.Timeouts.Search,
			run: func(ctx context.Context) (string, error) {
				return o.cfg.Generator.GenerateWithSearch(ctx, p, topicName)
			},
		}, plain}
	}

	for _, s := range strategies {
		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		content, err := s.run(sctx)
		cancel()
		if err == nil && content != "" {
			return content, s.name
		}
		if err == nil {
			err = ErrNoContent
		}
		log.Warn("generation strategy failed", "strategy", s.name, "err", err)
	}
	return "", ""
}
