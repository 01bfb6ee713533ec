// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"time"

	"go.astrophena.name/infobot/internal/syncx"
)

// DefaultPollTimeout is how long a single getUpdates request waits for
// updates.
const DefaultPollTimeout = 25 * time.Second

const maxBackoff = time.Minute

// Poller receives messages with long polling and dispatches each one to
// Handler in its own goroutine.
type Poller struct {
	Bot     *Bot
	Handler func(ctx context.Context, msg *Message)
	// Timeout defaults to DefaultPollTimeout.
	Timeout time.Duration

	state syncx.Protected[pollState]
	now   func() time.Time
}

type pollState struct {
	running  bool
	lastPoll time.Time
	lastErr  error
}

// Run polls until ctx is canceled and waits for running handlers to return.
func (p *Poller) Run(ctx context.Context) error {
	var (
		offset  int64
		backoff = time.Second
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	p.state.Access(func(s *pollState) { s.running = true })
	defer p.state.Access(func(s *pollState) { s.running = false })

	for ctx.Err() == nil {
		updates, err := p.Bot.GetUpdates(ctx, offset, cmp.Or(p.Timeout, DefaultPollTimeout))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.Bot.slog.Error("polling updates failed", "err", err, "retry_in", backoff)
			p.state.Access(func(s *pollState) { s.lastErr = err })
			if !p.Bot.sleep(ctx, backoff) {
				break
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		backoff = time.Second
		p.state.Access(func(s *pollState) {
			s.lastPoll = p.timeNow()
			s.lastErr = nil
		})

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.handle(ctx, u.Message)
			}()
		}
	}
	return nil
}

func (p *Poller) handle(ctx context.Context, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			p.Bot.slog.Error("message handler panicked", "panic", r, "chat_id", msg.Chat.ID, "text", msg.Text)
		}
	}()
	p.Handler(ctx, msg)
}

// Health reports whether the last poll succeeded.
func (p *Poller) Health() (string, bool) {
	s := p.state.Load()
	switch {
	case !s.running:
		return "not running", false
	case s.lastErr != nil:
		return fmt.Sprintf("last poll failed: %v", s.lastErr), false
	case s.lastPoll.IsZero():
		return "starting", true
	}
	return "last poll at " + s.lastPoll.UTC().Format(time.RFC3339), true
}

func (p *Poller) timeNow() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}
