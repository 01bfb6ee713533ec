// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"go.astrophena.name/infobot/cmd/infobot/internal/gemini"
	"go.astrophena.name/infobot/cmd/infobot/internal/history"
	"go.astrophena.name/infobot/cmd/infobot/internal/news"
	"go.astrophena.name/infobot/cmd/infobot/internal/post"
	"go.astrophena.name/infobot/cmd/infobot/internal/telegram"
	"go.astrophena.name/infobot/cmd/infobot/internal/topic"
	"go.astrophena.name/infobot/internal/cli"
	"go.astrophena.name/infobot/internal/filelock"
	"go.astrophena.name/infobot/internal/logger"
)

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	envFile    string
	json       bool
	stateDir   string
	topicsFile string

	// for tests
	httpc        *http.Client
	telegramAPI  string
	newGenerator func(context.Context, gemini.Options) (post.Generator, error)
	startupDelay time.Duration
	ready        func(addr string)
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.envFile, "env-file", ".env", "Read environment variables from `file`, if it exists.")
	fs.BoolVar(&a.json, "json", false, "Output in JSON format (honored by topics, history and post).")
	fs.StringVar(&a.stateDir, "state", "", "Keep post history and images in `dir`.")
	fs.StringVar(&a.topicsFile, "topics", "", "Load topics from YAML or Starlark `file`.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	command, args := env.Args[0], env.Args[1:]

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	switch command {
	case "serve":
		if len(args) != 0 {
			return fmt.Errorf("%w: serve takes no arguments", cli.ErrInvalidArgs)
		}
		return a.serve(ctx, cfg)
	case "post":
		if len(args) > 1 {
			return fmt.Errorf("%w: post expects at most one topic", cli.ErrInvalidArgs)
		}
		var which string
		if len(args) == 1 {
			which = args[0]
		}
		return a.post(ctx, cfg, which, env.Stdout)
	case "topics":
		return a.listTopics(ctx, cfg, env.Stdout)
	case "history":
		if len(args) > 1 {
			return fmt.Errorf("%w: history expects at most one topic", cli.ErrInvalidArgs)
		}
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		return a.showHistory(ctx, cfg, name, env.Stdout)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

// deps are the components shared by serve and post.
type deps struct {
	cfg     *config
	topics  *topic.Selector
	history *history.Store
	bot     *telegram.Bot
	posts   *post.Orchestrator
	lock    *filelock.Lock
}

func (a *app) loadTopics(ctx context.Context, cfg *config) (*topic.Selector, error) {
	topics, err := topic.Load(cfg.topicsFile, logger.Get(ctx).Logger)
	if err != nil {
		return nil, err
	}
	return topic.NewSelector(topics, cfg.defaultTopic)
}

// setup builds the post pipeline. It takes the state directory lock, so call
// close on the returned deps when done.
func (a *app) setup(ctx context.Context, cfg *config) (*deps, error) {
	if err := cfg.requireSecrets(); err != nil {
		return nil, err
	}
	l := logger.Get(ctx)

	topics, err := a.loadTopics(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.stateDir, 0o700); err != nil {
		return nil, err
	}
	lock, err := filelock.Acquire(cfg.lockPath(), fmt.Sprintf("pid %d", os.Getpid()))
	if errors.Is(err, filelock.ErrAlreadyLocked) {
		return nil, fmt.Errorf("state directory %s is used by another process (%s): %w", cfg.stateDir, filelock.Holder(cfg.lockPath()), err)
	}
	if err != nil {
		return nil, err
	}

	httpc := a.httpc
	if httpc == nil {
		httpc = cfg.httpClient(l.Logger)
	}

	newGenerator := a.newGenerator
	if newGenerator == nil {
		newGenerator = func(ctx context.Context, opts gemini.Options) (post.Generator, error) {
			return gemini.New(ctx, opts)
		}
	}
	gen, err := newGenerator(ctx, gemini.Options{
		APIKey:      cfg.geminiKey,
		Model:       cfg.model,
		ImageModel:  cfg.imageModel,
		Temperature: float32(cfg.temperature),
		MaxTokens:   int32(cfg.maxTokens),
		RPM:         cfg.rpm,
		Lang:        cfg.lang,
		ImageDir:    cfg.imageDir(),
		HTTPClient:  httpc,
		Logger:      l.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, lock.Release())
	}

	hist := history.Open(cfg.historyPath(), history.Options{Logger: l.Logger})
	bot := telegram.New(telegram.Config{
		Token:      cfg.botToken,
		ChatID:     cfg.channelID,
		APIURL:     a.telegramAPI,
		HTTPClient: httpc,
		Scrubber:   cfg.scrubber(),
		Logger:     l.Logger,
	})

	return &deps{
		cfg:     cfg,
		topics:  topics,
		history: hist,
		bot:     bot,
		posts: post.New(post.Config{
			Topics:    topics,
			History:   hist,
			Generator: gen,
			Publisher: bot,
			News:      &news.Fetcher{HTTPClient: httpc, Logger: l.Logger},
			Lang:      cfg.lang,
			WebSearch: cfg.webSearch,
			Images:    cfg.images,
			Logger:    l.Logger,
		}),
		lock: lock,
	}, nil
}

// close flushes the history and releases the state directory lock.
func (d *deps) close() error {
	return errors.Join(d.history.Flush(), d.lock.Release())
}

// publish publishes a post about the topic named by which: an index, a name,
// "random" or "all". An empty string means the default topic.
func (d *deps) publish(ctx context.Context, which string) ([]post.Result, error) {
	var (
		res post.Result
		err error
	)
	switch which {
	case "":
		res, err = d.posts.PublishDefault(ctx)
	case "random":
		res, err = d.posts.PublishRandom(ctx)
	case "all":
		return d.posts.PublishAll(ctx)
	default:
		i, ok := d.topics.ByName(which)
		if !ok {
			i, err = topic.ParseIndex(which)
			if err != nil {
				return nil, fmt.Errorf("no topic named %q: %w", which, err)
			}
		}
		res, err = d.posts.PublishTopic(ctx, i)
	}
	if res.Topic == "" {
		return nil, err
	}
	return []post.Result{res}, err
}

func (a *app) post(ctx context.Context, cfg *config, which string, w io.Writer) (err error) {
	d, err := a.setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, d.close()) }()

	results, err := d.publish(ctx, which)
	if errors.Is(err, topic.ErrInvalidIndex) {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}

	if a.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(results); encErr != nil {
			return errors.Join(err, encErr)
		}
		return err
	}
	for _, res := range results {
		status := "published"
		if res.Placeholder() {
			status = "published placeholder"
		}
		fmt.Fprintf(w, "%s post about %q (run %s)\n", status, res.Topic, res.RunID)
	}
	return err
}

func (a *app) listTopics(ctx context.Context, cfg *config, w io.Writer) error {
	topics, err := a.loadTopics(ctx, cfg)
	if err != nil {
		return err
	}
	if a.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(topics.Topics())
	}

	def, _ := topics.Default()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tFEEDS\tSEARCH\tDEFAULT")
	for i, t := range topics.Topics() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", i, t.Name, len(t.Feeds), yesNo(t.WebSearch || t.Name == topic.MachineLearning), yesNo(i == def))
	}
	return tw.Flush()
}

func (a *app) showHistory(ctx context.Context, cfg *config, name string, w io.Writer) error {
	// A missing file means nothing was published yet.
	if _, err := os.Stat(cfg.historyPath()); errors.Is(err, fs.ErrNotExist) {
		if a.json {
			fmt.Fprintln(w, "[]")
			return nil
		}
		fmt.Fprintln(w, "no history yet")
		return nil
	} else if err != nil {
		return err
	}

	// Without the state directory lock, never write the file.
	hist := history.Open(cfg.historyPath(), history.Options{
		Logger:   logger.Get(ctx).Logger,
		ReadOnly: true,
	})

	if name != "" {
		posts := hist.PreviousPosts(name, history.DefaultLimit)
		if a.json {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(posts)
		}
		if len(posts) == 0 {
			fmt.Fprintf(w, "no posts about %q\n", name)
			return nil
		}
		for _, p := range slices.Backward(posts) {
			fmt.Fprintf(w, "--- %s\n%s\n\n", p.Date, strings.TrimSpace(p.Content))
		}
		return nil
	}

	type topicJSON struct {
		Topic    string    `json:"topic"`
		LastPost time.Time `json:"last_post"`
	}
	var topics []topicJSON
	for _, t := range hist.Topics() {
		last, _ := hist.LastPostDate(t)
		topics = append(topics, topicJSON{Topic: t, LastPost: last})
	}
	if a.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(topics)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAST POST\tTOPIC")
	for _, t := range topics {
		fmt.Fprintf(tw, "%s\t%s\n", t.LastPost.UTC().Format(time.DateTime), t.Topic)
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
