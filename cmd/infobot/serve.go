// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.astrophena.name/infobot/cmd/infobot/internal/commands"
	"go.astrophena.name/infobot/cmd/infobot/internal/schedule"
	"go.astrophena.name/infobot/cmd/infobot/internal/telegram"
	"go.astrophena.name/infobot/internal/cli"
	"go.astrophena.name/infobot/internal/logger"
	"go.astrophena.name/infobot/internal/systemd"
	"go.astrophena.name/infobot/internal/web"

	"golang.org/x/sync/errgroup"
)

const (
	scheduledJob = "Hourly Post"
	// logLines is the number of log lines kept for /debug/logs.
	logLines = 1000
	// defaultStartupDelay is how long serve waits before the RUN_ON_STARTUP
	// post.
	defaultStartupDelay = 5 * time.Second
)

func (a *app) serve(ctx context.Context, cfg *config) (err error) {
	// Keep recent log lines for /debug/logs.
	logs := logger.NewBuffer(logLines)
	parent := logger.Get(ctx)
	l := logger.New(io.MultiWriter(cli.GetEnv(ctx).Stderr, logs))
	l.Level.Set(parent.Level.Level())
	ctx = logger.Put(ctx, l)

	d, err := a.setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		l.Info("flushing history")
		err = errors.Join(err, d.close())
	}()

	sched := schedule.New(l.Logger)
	if err := sched.Add(scheduledJob, cfg.schedule, func(ctx context.Context) error {
		_, err := d.posts.PublishDefault(ctx)
		return err
	}); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error {
		systemd.WatchdogLoop(ctx)
		return nil
	})

	var poller *telegram.Poller
	if cfg.commands {
		h := &commands.Handler{
			Admins:   cfg.admins,
			Topics:   d.topics,
			History:  d.history,
			Poster:   d.posts,
			Bot:      d.bot,
			Lang:     cfg.lang,
			Schedule: cfg.schedule,
			Logger:   l.Logger,
		}
		poller = &telegram.Poller{Bot: d.bot, Handler: h.Handle}
		g.Go(func() error { return poller.Run(ctx) })
		l.Info("handling commands", "admins", len(cfg.admins))
	}

	if cfg.addr != "" {
		mux := a.mux(d, logs)
		health := web.Health(mux)
		health.RegisterFunc("history", d.history.Health)
		health.RegisterFunc("scheduler", sched.Health)
		if poller != nil {
			health.RegisterFunc("poller", poller.Health)
		}
		g.Go(func() error {
			return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
				Addr:  cfg.addr,
				Mux:   mux,
				Token: cfg.adminToken,
				Ready: a.ready,
			})
		})
	}

	g.Go(func() error {
		a.startup(ctx, d)
		return nil
	})

	systemd.Notify(ctx, systemd.Ready)
	err = g.Wait()
	systemd.Notify(context.WithoutCancel(ctx), systemd.Stopping)
	return err
}

// startup runs the optional tasks done once serve starts. Failures are logged.
func (a *app) startup(ctx context.Context, d *deps) {
	l := logger.Get(ctx)

	me, err := d.bot.GetMe(ctx)
	if err != nil {
		l.Error("getting bot info failed", "err", err)
	} else {
		l.Info("bot started", "username", me.Username, "id", me.ID)
	}

	if d.cfg.testOnStartup {
		text := d.cfg.lang.Pick(
			"🤖 Бот запущен и готов к работе! Используйте /help для получения списка команд.",
			"🤖 The bot is up and running! Use /help to see the list of commands.",
		)
		if err := d.bot.SendNotice(ctx, text); err != nil {
			l.Error("sending startup message failed", "err", err)
		}
	}

	if !d.cfg.runOnStartup {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(cmp.Or(a.startupDelay, defaultStartupDelay)):
	}
	l.Info("publishing startup post")
	if _, err := d.posts.PublishDefault(ctx); err != nil {
		l.Error("publishing startup post failed", "err", err)
	}
}

func (a *app) mux(d *deps, logs *logger.Buffer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/topics", d.handleTopics)
	mux.HandleFunc("GET /api/history", d.handleHistory)
	mux.HandleFunc("POST /api/post", d.handlePost)
	mux.Handle("GET /debug/logs", logs)
	return mux
}
