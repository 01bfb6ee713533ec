// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides an http.RoundTripper that logs outgoing
// requests at the debug level.
package httplogger

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// New returns a RoundTripper that logs requests made through t. Secrets in
// URLs are removed with scrubber, which may be nil.
func New(t http.RoundTripper, log *slog.Logger, scrubber *strings.Replacer) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	return &transport{next: t, log: log, scrubber: scrubber}
}

type transport struct {
	next     http.RoundTripper
	log      *slog.Logger
	scrubber *strings.Replacer
}

func (t *transport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	if !t.log.Enabled(ctx, slog.LevelDebug) {
		return t.next.RoundTrip(r)
	}

	url := r.URL.String()
	if t.scrubber != nil {
		url = t.scrubber.Replace(url)
	}
	start := time.Now()
	res, err := t.next.RoundTrip(r)

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("url", url),
		slog.Duration("duration", time.Since(start)),
	}
	if res != nil {
		attrs = append(attrs, slog.Int("status", res.StatusCode))
	}
	if err != nil {
		msg := err.Error()
		if t.scrubber != nil {
			msg = t.scrubber.Replace(msg)
		}
		attrs = append(attrs, slog.String("err", msg))
	}
	t.log.LogAttrs(context.WithoutCancel(ctx), slog.LevelDebug, "http request", attrs...)
	return res, err
}
