// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/infobot/cmd/infobot/internal/prompt"
	"go.astrophena.name/infobot/cmd/infobot/internal/schedule"
	"go.astrophena.name/infobot/cmd/infobot/internal/topic"
	"go.astrophena.name/infobot/internal/cli"
	"go.astrophena.name/infobot/internal/httplogger"

	"github.com/joho/godotenv"
)

type config struct {
	geminiKey   string
	model       string
	imageModel  string
	maxTokens   int
	temperature float64
	rpm         int

	botToken  string
	channelID string
	commands  bool
	admins    []int64

	proxy *url.URL

	schedule      string
	lang          prompt.Lang
	images        bool
	webSearch     bool
	runOnStartup  bool
	testOnStartup bool
	defaultTopic  string
	topicsFile    string
	stateDir      string
	addr          string
	adminToken    string
}

// loadConfig resolves the configuration from flags, the environment and the
// env file, in that order.
func (a *app) loadConfig(ctx context.Context) (*config, error) {
	env := cli.GetEnv(ctx)

	vars, err := godotenv.Read(a.envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", a.envFile, err)
	}
	p := &envParser{getenv: func(key string) string {
		return strings.TrimSpace(cmp.Or(env.Getenv(key), vars[key]))
	}}

	c := &config{
		geminiKey:     p.str("GEMINI_API_KEY", ""),
		model:         p.str("GEMINI_MODEL", ""),
		imageModel:    p.str("GEMINI_IMAGE_MODEL", ""),
		maxTokens:     p.integer("MAX_TOKENS"),
		temperature:   p.float("TEMPERATURE"),
		rpm:           p.integer("GENERATION_RPM"),
		botToken:      p.str("TELEGRAM_BOT_TOKEN", ""),
		channelID:     p.str("TELEGRAM_CHANNEL_ID", ""),
		commands:      p.boolean("ENABLE_COMMANDS"),
		admins:        p.ids("ADMIN_USER_IDS"),
		proxy:         p.proxy(),
		schedule:      p.str("CRON_SCHEDULE", schedule.DefaultSpec),
		lang:          prompt.ParseLang(p.str("LANGUAGE", string(prompt.Russian))),
		images:        p.boolean("GENERATE_IMAGES"),
		webSearch:     p.boolean("ENABLE_WEB_SEARCH"),
		runOnStartup:  p.boolean("RUN_ON_STARTUP"),
		testOnStartup: p.boolean("TEST_BOT_ON_STARTUP"),
		defaultTopic:  p.str("DEFAULT_TOPIC", topic.MachineLearning),
		topicsFile:    cmp.Or(a.topicsFile, p.str("TOPICS_FILE", "")),
		stateDir:      cmp.Or(a.stateDir, p.str("STATE_DIRECTORY", "")),
		addr:          p.str("ADDR", ""),
		adminToken:    p.str("ADMIN_TOKEN", ""),
	}
	if err := schedule.Validate(c.schedule); err != nil {
		p.fail("CRON_SCHEDULE", err)
	}
	if c.commands && len(c.admins) == 0 {
		p.fail("ADMIN_USER_IDS", errors.New("must be set when ENABLE_COMMANDS is true"))
	}
	if c.addr != "" && c.adminToken == "" {
		p.fail("ADMIN_TOKEN", errors.New("must be set when ADDR is set"))
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if c.stateDir == "" {
		xdgStateHome := p.str("XDG_STATE_HOME", "")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		c.stateDir = filepath.Join(xdgStateHome, "infobot")
	}
	return c, nil
}

// requireSecrets checks the variables needed to generate and publish posts.
func (c *config) requireSecrets() error {
	var errs []error
	for key, val := range map[string]string{
		"GEMINI_API_KEY":      c.geminiKey,
		"TELEGRAM_BOT_TOKEN":  c.botToken,
		"TELEGRAM_CHANNEL_ID": c.channelID,
	} {
		if val == "" {
			errs = append(errs, fmt.Errorf("%w: %s is not set", cli.ErrInvalidArgs, key))
		}
	}
	return errors.Join(errs...)
}

func (c *config) historyPath() string { return filepath.Join(c.stateDir, "history.json") }
func (c *config) imageDir() string    { return filepath.Join(c.stateDir, "images") }
func (c *config) lockPath() string    { return filepath.Join(c.stateDir, "infobot.lock") }

// scrubber removes secrets from error messages.
func (c *config) scrubber() *strings.Replacer {
	var oldnew []string
	for _, secret := range []string{c.botToken, c.geminiKey, c.adminToken} {
		if secret != "" {
			oldnew = append(oldnew, secret, "[EXPUNGED]")
		}
	}
	if c.proxy != nil {
		if pass, ok := c.proxy.User.Password(); ok && pass != "" {
			oldnew = append(oldnew, pass, "[EXPUNGED]")
		}
	}
	return strings.NewReplacer(oldnew...)
}

// httpClient returns the client used for all outgoing requests. Its timeout
// is above the Telegram long polling timeout. Requests are logged at the
// debug level.
func (c *config) httpClient(log *slog.Logger) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if c.proxy != nil {
		t.Proxy = http.ProxyURL(c.proxy)
	}
	return &http.Client{
		Transport: httplogger.New(t, log, c.scrubber()),
		Timeout:   2 * time.Minute,
	}
}

// envParser reads typed values from the environment and collects errors.
type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%w: %s: %v", cli.ErrInvalidArgs, key, err))
}

func (p *envParser) str(key, def string) string { return cmp.Or(p.getenv(key), def) }

func (p *envParser) boolean(key string) bool {
	s := p.getenv(key)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(key, err)
	}
	return b
}

func (p *envParser) integer(key string) int {
	s := p.getenv(key)
	if s == "" {
		return 0
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		p.fail(key, fmt.Errorf("%q is not a non-negative integer", s))
	}
	return i
}

func (p *envParser) float(key string) float64 {
	s := p.getenv(key)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		p.fail(key, fmt.Errorf("%q is not a non-negative number", s))
	}
	return f
}

func (p *envParser) ids(key string) []int64 {
	var ids []int64
	for s := range strings.SplitSeq(p.getenv(key), ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			p.fail(key, fmt.Errorf("%q is not a user ID", s))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (p *envParser) proxy() *url.URL {
	if !p.boolean("PROXY_ENABLED") {
		return nil
	}
	host, port := p.getenv("PROXY_HOST"), p.getenv("PROXY_PORT")
	if host == "" || port == "" {
		p.fail("PROXY_HOST", errors.New("PROXY_HOST and PROXY_PORT must be set when PROXY_ENABLED is true"))
		return nil
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
	if user := p.getenv("PROXY_USERNAME"); user != "" {
		u.User = url.UserPassword(user, p.getenv("PROXY_PASSWORD"))
	}
	return u
}
