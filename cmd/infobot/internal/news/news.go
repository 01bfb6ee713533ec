// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package news fetches recent headlines from RSS and Atom feeds.
package news

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.astrophena.name/infobot/cmd/infobot/internal/prompt"
	"go.astrophena.name/infobot/internal/version"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

// Defaults for Fetcher.
const (
	DefaultLimit  = 5
	DefaultMaxAge = 72 * time.Hour
)

const concurrency = 4

// Fetcher fetches headlines. The zero value is ready to use.
type Fetcher struct {
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Limit is the maximum number of headlines returned. Defaults to
	// DefaultLimit.
	Limit int
	// MaxAge skips items published earlier. Defaults to DefaultMaxAge.
	MaxAge time.Duration

	now func() time.Time
}

// Headlines returns the newest headlines across feeds, newest first. Feeds
// that fail to fetch or parse are logged and skipped, so the result may be
// empty.
func (f *Fetcher) Headlines(ctx context.Context, feeds []string) []prompt.Headline {
	if len(feeds) == 0 {
		return nil
	}

	var (
		now     = time.Now()
		results = make([][]prompt.Headline, len(feeds))
		g, gctx = errgroup.WithContext(ctx)
	)
	if f.now != nil {
		now = f.now()
	}
	g.SetLimit(concurrency)
	for i, url := range feeds {
		g.Go(func() error {
			hs, err := f.fetch(gctx, url, now.Add(-cmp.Or(f.MaxAge, DefaultMaxAge)))
			if err != nil {
				f.logger().Warn("fetching feed failed", "feed", url, "err", err)
				return nil
			}
			results[i] = hs
			return nil
		})
	}
	g.Wait()

	var all []prompt.Headline
	for _, hs := range results {
		all = append(all, hs...)
	}
	slices.SortStableFunc(all, func(a, b prompt.Headline) int {
		return b.Date.Compare(a.Date)
	})
	if limit := cmp.Or(f.Limit, DefaultLimit); len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (f *Fetcher) fetch(ctx context.Context, url string, since time.Time) ([]prompt.Headline, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	res, err := cmp.Or(f.HTTPClient, http.DefaultClient).Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		const readLimit = 1024
		body, _ := io.ReadAll(io.LimitReader(res.Body, readLimit))
		return nil, fmt.Errorf("want 200, got %d: %s", res.StatusCode, body)
	}

	feed, err := gofeed.NewParser().Parse(res.Body)
	if err != nil {
		return nil, err
	}

	var hs []prompt.Headline
	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		var date time.Time
		switch {
		case item.PublishedParsed != nil:
			date = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			date = *item.UpdatedParsed
		}
		if !date.IsZero() && date.Before(since) {
			continue
		}
		hs = append(hs, prompt.Headline{
			Title:  title,
			Link:   item.Link,
			Source: feed.Title,
			Date:   date,
		})
	}
	return hs, nil
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
