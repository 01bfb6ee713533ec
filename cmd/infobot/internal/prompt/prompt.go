// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package prompt builds generation prompts: it localizes instructions and
// augments them with excerpts of previous posts so that the generator doesn't
// repeat itself.
package prompt

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.astrophena.name/infobot/cmd/infobot/internal/history"
)

// ExcerptLength is the number of characters of a previous post quoted in a
// prompt.
const ExcerptLength = 200

// History is the part of the history store consulted by the Enhancer.
type History interface {
	PreviousPosts(topic string, count int) []history.Post
}

// Enhancer appends previous posts of a topic to prompts.
type Enhancer struct {
	History History
	// Window is the number of previous posts to quote. Zero means
	// history.DefaultWindow.
	Window int
	Lang   Lang
	Logger *slog.Logger
}

// Enhance returns base followed by an instruction to avoid repetition and
// excerpts of previous posts of topic, oldest first. Without previous posts,
// or if any of them has a malformed date, base is returned unchanged.
func (e *Enhancer) Enhance(topic, base string) string {
	window := e.Window
	if window <= 0 {
		window = history.DefaultWindow
	}
	posts := e.History.PreviousPosts(topic, window)
	if len(posts) == 0 {
		e.logger().Debug("no previous posts, using prompt as is", "topic", topic)
		return base
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(e.Lang.Pick(
		"\n\nВажно: Создай уникальный контент, который не повторяет предыдущие посты на эту тему. Вот содержание последних постов для справки:\n\n",
		"\n\nImportant: Create unique content that doesn't repeat previous posts on this topic. Here are the latest posts for reference:\n\n",
	))
	for _, p := range posts {
		t, ok := p.Time()
		if !ok {
			e.logger().Warn("previous post has a malformed date, using prompt as is", "topic", topic, "date", p.Date)
			return base
		}
		fmt.Fprintf(&sb, e.Lang.Pick("Пост от %s:\n%s\n\n", "Post from %s:\n%s\n\n"), e.Lang.ShortDate(t), e.excerpt(p.Content))
	}
	sb.WriteString(e.Lang.Pick(
		"Пожалуйста, создай новый уникальный контент, который не повторяет информацию из этих постов.",
		"Please create new, unique content that doesn't repeat information from these posts.",
	))

	e.logger().Debug("enhanced prompt with history", "topic", topic, "posts", len(posts))
	return sb.String()
}

func (e *Enhancer) excerpt(content string) string {
	if content == "" {
		return e.Lang.Pick("[Содержимое недоступно]", "[Content unavailable]")
	}
	return Truncate(content, ExcerptLength) + "..."
}

func (e *Enhancer) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}

// Base returns the topic instruction followed by a directive to provide
// information for the current year.
func (l Lang) Base(instruction string, now time.Time) string {
	return fmt.Sprintf(l.Pick(
		"%s Предоставь актуальную информацию за %d год.",
		"%s Provide current information for %d.",
	), instruction, now.Year())
}
