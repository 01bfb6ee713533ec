// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package commands handles chat commands sent to the bot by its admins.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.astrophena.name/infobot/cmd/infobot/internal/post"
	"go.astrophena.name/infobot/cmd/infobot/internal/prompt"
	"go.astrophena.name/infobot/cmd/infobot/internal/telegram"
	"go.astrophena.name/infobot/cmd/infobot/internal/topic"
)

// Poster publishes posts.
type Poster interface {
	PublishTopic(ctx context.Context, index int) (post.Result, error)
	PublishRandom(ctx context.Context) (post.Result, error)
}

// Replier sends replies.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// History reports when topics were last posted.
type History interface {
	LastPostDate(topic string) (time.Time, bool)
}

// Handler dispatches commands. Only admins may use them.
type Handler struct {
	Admins  []int64
	Topics  *topic.Selector
	History History
	Poster  Poster
	Bot     Replier
	Lang    prompt.Lang
	// Schedule is the cron spec of scheduled posts, shown in the help.
	Schedule string
	Logger   *slog.Logger
}

// Handle handles msg. It has the signature of telegram.Poller.Handler.
func (h *Handler) Handle(ctx context.Context, msg *telegram.Message) {
	name, args, ok := parse(msg.Text)
	if !ok {
		return
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	log := h.logger().With("user_id", userID, "chat_id", msg.Chat.ID, "command", name)

	if !slices.Contains(h.Admins, userID) {
		log.Info("command from a non-admin user")
		h.reply(ctx, log, msg.Chat.ID, h.Lang.Pick(
			"Извините, у вас нет прав для использования команд.",
			"Sorry, you don't have permission to use commands.",
		))
		return
	}

	log.Info("received command", "args", args)
	switch name {
	case "start", "help":
		h.help(ctx, log, msg.Chat.ID)
	case "status":
		h.status(ctx, log, msg.Chat.ID)
	case "topics":
		h.topics(ctx, log, msg.Chat.ID)
	case "post":
		i, ok := h.Topics.Default()
		if !ok {
			log.Warn("default topic not found, using the first topic", "default", h.Topics.DefaultName())
		}
		h.post(ctx, log, msg.Chat.ID, i)
	case "post_topic":
		if len(args) == 0 {
			h.reply(ctx, log, msg.Chat.ID, h.Lang.Pick(
				"Использование: /post_topic [индекс темы]",
				"Usage: /post_topic [topic index]",
			))
			return
		}
		i, err := topic.ParseIndex(args[0])
		if err == nil {
			_, err = h.Topics.ByIndex(i)
		}
		if err != nil {
			log.Info("invalid topic index", "err", err)
			h.reply(ctx, log, msg.Chat.ID, h.Lang.Pick(
				"Неверный индекс темы. Используйте /topics для просмотра доступных тем.",
				"Invalid topic index. Use /topics to see available topics.",
			))
			return
		}
		h.post(ctx, log, msg.Chat.ID, i)
	case "post_random":
		h.postRandom(ctx, log, msg.Chat.ID)
	default:
		log.Debug("unknown command")
	}
}

// parse splits a command message into the command name without the slash
// and bot username, and its arguments.
func parse(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name, _, _ = strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func (h *Handler) help(ctx context.Context, log *slog.Logger, chatID int64) {
	var sb strings.Builder
	sb.WriteString(h.Lang.Pick("Доступные команды:\n", "Available commands:\n"))
	sb.WriteString(h.Lang.Pick(
		"/help - показать эту справку\n"+
			"/status - проверить статус бота\n"+
			"/topics - показать список доступных тем\n",
		"/help - show this help message\n"+
			"/status - check bot status\n"+
			"/topics - show list of available topics\n",
	))
	fmt.Fprintf(&sb, h.Lang.Pick(
		"/post - создать пост на тему %q\n",
		"/post - create a post on %q topic\n",
	), h.defaultName())
	sb.WriteString(h.Lang.Pick(
		"/post_topic [индекс] - создать пост на конкретную тему (например, /post_topic 0)\n"+
			"/post_random - создать пост на случайную тему, которая давно не публиковалась\n",
		"/post_topic [index] - create a post on a specific topic (e.g., /post_topic 0)\n"+
			"/post_random - create a post on a random topic that wasn't posted recently\n",
	))
	if h.Schedule != "" {
		fmt.Fprintf(&sb, h.Lang.Pick(
			"\nБот автоматически публикует посты на тему %q по расписанию %q (UTC).\n",
			"\nThe bot automatically publishes posts on %q topic on schedule %q (UTC).\n",
		), h.defaultName(), h.Schedule)
	}
	sb.WriteString(h.Lang.Pick(
		"\nФункция уникальности контента:\nБот отслеживает историю постов и генерирует уникальный контент, который не повторяет предыдущие публикации.",
		"\nContent uniqueness feature:\nThe bot tracks post history and generates unique content that doesn't repeat previous publications.",
	))
	h.reply(ctx, log, chatID, sb.String())
}

func (h *Handler) status(ctx context.Context, log *slog.Logger, chatID int64) {
	var sb strings.Builder
	sb.WriteString(h.Lang.Pick(
		"Бот работает нормально. Готов к созданию постов.\n\n",
		"Bot is running normally. Ready to create posts.\n\n",
	))
	sb.WriteString(h.Lang.Pick("Последние публикации по темам:\n", "Latest publications by topic:\n"))
	for _, t := range h.Topics.Topics() {
		date := h.Lang.Pick("Нет данных", "No data")
		if last, ok := h.History.LastPostDate(t.Name); ok {
			date = last.UTC().Format(h.Lang.Pick("02.01.2006, 15:04:05 UTC", "2006-01-02 15:04:05 UTC"))
		}
		sb.WriteString(t.Name + ": " + date + "\n")
	}
	h.reply(ctx, log, chatID, sb.String())
}

func (h *Handler) topics(ctx context.Context, log *slog.Logger, chatID int64) {
	var sb strings.Builder
	sb.WriteString(h.Lang.Pick("Доступные темы:\n", "Available topics:\n"))
	for i, t := range h.Topics.Topics() {
		fmt.Fprintf(&sb, "%d: %s\n", i, t.Name)
	}
	h.reply(ctx, log, chatID, sb.String())
}

func (h *Handler) post(ctx context.Context, log *slog.Logger, chatID int64, index int) {
	t, err := h.Topics.ByIndex(index)
	if err != nil {
		h.postFailed(ctx, log, chatID, err)
		return
	}
	h.reply(ctx, log, chatID, fmt.Sprintf(h.Lang.Pick(
		"Генерирую пост на тему %q... Пожалуйста, подождите.",
		"Generating post on topic %q... Please wait.",
	), t.Name))

	res, err := h.Poster.PublishTopic(ctx, index)
	if err != nil {
		h.postFailed(ctx, log, chatID, err)
		return
	}
	h.posted(ctx, log, chatID, res)
}

func (h *Handler) postRandom(ctx context.Context, log *slog.Logger, chatID int64) {
	h.reply(ctx, log, chatID, h.Lang.Pick(
		"Генерирую пост на случайную тему... Пожалуйста, подождите.",
		"Generating post on a random topic... Please wait.",
	))
	res, err := h.Poster.PublishRandom(ctx)
	if err != nil {
		h.postFailed(ctx, log, chatID, err)
		return
	}
	h.posted(ctx, log, chatID, res)
}

func (h *Handler) posted(ctx context.Context, log *slog.Logger, chatID int64, res post.Result) {
	log.Info("post command done", "run_id", res.RunID, "topic", res.Topic, "placeholder", res.Placeholder())
	h.reply(ctx, log, chatID, fmt.Sprintf(h.Lang.Pick(
		"Пост на тему %q успешно опубликован в канале.",
		"Post on topic %q successfully published to the channel.",
	), res.Topic))
}

func (h *Handler) postFailed(ctx context.Context, log *slog.Logger, chatID int64, err error) {
	log.Error("post command failed", "err", err)
	h.reply(ctx, log, chatID, fmt.Sprintf(h.Lang.Pick(
		"Ошибка при создании поста: %v",
		"Error creating post: %v",
	), err))
}

func (h *Handler) reply(ctx context.Context, log *slog.Logger, chatID int64, text string) {
	if err := h.Bot.Reply(ctx, chatID, text); err != nil {
		log.Error("replying failed", "err", err)
	}
}

func (h *Handler) defaultName() string {
	i, _ := h.Topics.Default()
	t, err := h.Topics.ByIndex(i)
	if err != nil {
		return h.Topics.DefaultName()
	}
	return t.Name
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
