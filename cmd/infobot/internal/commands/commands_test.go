// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package commands

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/infobot/cmd/infobot/internal/post"
	"go.astrophena.name/infobot/cmd/infobot/internal/prompt"
	"go.astrophena.name/infobot/cmd/infobot/internal/telegram"
	"go.astrophena.name/infobot/cmd/infobot/internal/topic"
	"go.astrophena.name/infobot/internal/testutil"
)

const (
	adminID    = 42
	chatID     = 100
	strangerID = 7
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type reply struct {
	ChatID int64
	Text   string
}

type fakeBot struct{ replies []reply }

func (b *fakeBot) Reply(ctx context.Context, chatID int64, text string) error {
	b.replies = append(b.replies, reply{chatID, text})
	return nil
}

type fakePoster struct {
	topics  *topic.Selector
	indexes []int
	random  int
	err     error
}

func (p *fakePoster) PublishTopic(ctx context.Context, index int) (post.Result, error) {
	p.indexes = append(p.indexes, index)
	if p.err != nil {
		return post.Result{}, p.err
	}
	t, err := p.topics.ByIndex(index)
	if err != nil {
		return post.Result{}, err
	}
	return post.Result{Index: index, Topic: t.Name, Content: "text", Strategy: "plain"}, nil
}

func (p *fakePoster) PublishRandom(ctx context.Context) (post.Result, error) {
	return p.PublishTopic(ctx, p.random)
}

type fakeHistory map[string]time.Time

func (h fakeHistory) LastPostDate(topic string) (time.Time, bool) {
	t, ok := h[topic]
	return t, ok
}

func newHandler(t *testing.T, lang prompt.Lang) (*Handler, *fakeBot, *fakePoster) {
	t.Helper()
	topics, err := topic.NewSelector([]topic.Topic{
		{Name: "Go"},
		{Name: "Rust"},
		{Name: "Zig"},
	}, "Rust")
	if err != nil {
		t.Fatal(err)
	}
	bot := &fakeBot{}
	poster := &fakePoster{topics: topics, random: 2}
	return &Handler{
		Admins: []int64{adminID},
		Topics: topics,
		History: fakeHistory{
			"Go": time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC),
		},
		Poster:   poster,
		Bot:      bot,
		Lang:     lang,
		Schedule: "0 * * * *",
		Logger:   discard,
	}, bot, poster
}

func message(from int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 1,
		From:      &telegram.User{ID: from},
		Chat:      telegram.Chat{ID: chatID},
		Text:      text,
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		text     string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		"plain":        {text: "/help", wantName: "help", wantArgs: []string{}, wantOK: true},
		"bot username": {text: "/post_topic@infobot 3", wantName: "post_topic", wantArgs: []string{"3"}, wantOK: true},
		"upper case":   {text: "/STATUS", wantName: "status", wantArgs: []string{}, wantOK: true},
		"extra spaces": {text: "  /post_topic   1  2 ", wantName: "post_topic", wantArgs: []string{"1", "2"}, wantOK: true},
		"not command":  {text: "hello /help"},
		"empty":        {text: ""},
		"only slash":   {text: "/"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			gotName, gotArgs, gotOK := parse(tc.text)
			testutil.AssertEqual(t, gotOK, tc.wantOK)
			if !tc.wantOK {
				return
			}
			testutil.AssertEqual(t, gotName, tc.wantName)
			testutil.AssertEqual(t, gotArgs, tc.wantArgs)
		})
	}
}

func TestNonAdmin(t *testing.T) {
	t.Parallel()

	for lang, want := range map[prompt.Lang]string{
		prompt.Russian: "Извините, у вас нет прав для использования команд.",
		prompt.English: "Sorry, you don't have permission to use commands.",
	} {
		t.Run(string(lang), func(t *testing.T) {
			t.Parallel()
			h, bot, poster := newHandler(t, lang)
			h.Handle(t.Context(), message(strangerID, "/post"))
			testutil.AssertEqual(t, bot.replies, []reply{{chatID, want}})
			testutil.AssertEqual(t, len(poster.indexes), 0)
		})
	}
}

func TestNoSender(t *testing.T) {
	t.Parallel()

	h, bot, poster := newHandler(t, prompt.English)
	msg := message(0, "/post")
	msg.From = nil
	h.Handle(t.Context(), msg)
	testutil.AssertEqual(t, len(bot.replies), 1)
	testutil.AssertEqual(t, len(poster.indexes), 0)
}

func TestIgnored(t *testing.T) {
	t.Parallel()

	for name, text := range map[string]string{
		"not a command":   "hello",
		"unknown command": "/frobnicate",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h, bot, _ := newHandler(t, prompt.English)
			h.Handle(t.Context(), message(adminID, text))
			testutil.AssertEqual(t, len(bot.replies), 0)
		})
	}
}

func TestHelp(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		lang prompt.Lang
		text string
		want []string
	}{
		"english": {
			lang: prompt.English,
			text: "/help",
			want: []string{
				"Available commands:\n",
				"/post - create a post on \"Rust\" topic\n",
				"/post_topic [index]",
				"/post_random",
				"on schedule \"0 * * * *\" (UTC)",
				"Content uniqueness feature",
			},
		},
		"russian start": {
			lang: prompt.Russian,
			text: "/start",
			want: []string{
				"Доступные команды:\n",
				"/post - создать пост на тему \"Rust\"\n",
				"/post_topic [индекс]",
				"Функция уникальности контента",
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h, bot, _ := newHandler(t, tc.lang)
			h.Handle(t.Context(), message(adminID, tc.text))
			testutil.AssertEqual(t, len(bot.replies), 1)
			for _, w := range tc.want {
				if !strings.Contains(bot.replies[0].Text, w) {
					t.Errorf("help doesn't contain %q:\n%s", w, bot.replies[0].Text)
				}
			}
		})
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		lang prompt.Lang
		want string
	}{
		"english": {
			lang: prompt.English,
			want: "Bot is running normally. Ready to create posts.\n\n" +
				"Latest publications by topic:\n" +
				"Go: 2026-03-14 09:26:53 UTC\n" +
				"Rust: No data\n" +
				"Zig: No data\n",
		},
		"russian": {
			lang: prompt.Russian,
			want: "Бот работает нормально. Готов к созданию постов.\n\n" +
				"Последние публикации по темам:\n" +
				"Go: 14.03.2026, 09:26:53 UTC\n" +
				"Rust: Нет данных\n" +
				"Zig: Нет данных\n",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h, bot, _ := newHandler(t, tc.lang)
			h.Handle(t.Context(), message(adminID, "/status"))
			testutil.AssertEqual(t, bot.replies, []reply{{chatID, tc.want}})
		})
	}
}

func TestTopics(t *testing.T) {
	t.Parallel()

	h, bot, _ := newHandler(t, prompt.Russian)
	h.Handle(t.Context(), message(adminID, "/topics"))
	testutil.AssertEqual(t, bot.replies, []reply{{chatID, "Доступные темы:\n0: Go\n1: Rust\n2: Zig\n"}})
}

func TestPost(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		text        string
		err         error
		wantIndexes []int
		wantReplies []string
	}{
		"default": {
			text:        "/post",
			wantIndexes: []int{1},
			wantReplies: []string{
				`Generating post on topic "Rust"... Please wait.`,
				`Post on topic "Rust" successfully published to the channel.`,
			},
		},
		"by index": {
			text:        "/post_topic 0",
			wantIndexes: []int{0},
			wantReplies: []string{
				`Generating post on topic "Go"... Please wait.`,
				`Post on topic "Go" successfully published to the channel.`,
			},
		},
		"random": {
			text:        "/post_random",
			wantIndexes: []int{2},
			wantReplies: []string{
				"Generating post on a random topic... Please wait.",
				`Post on topic "Zig" successfully published to the channel.`,
			},
		},
		"missing index": {
			text:        "/post_topic",
			wantReplies: []string{"Usage: /post_topic [topic index]"},
		},
		"index out of range": {
			text:        "/post_topic 3",
			wantReplies: []string{"Invalid topic index. Use /topics to see available topics."},
		},
		"index not a number": {
			text:        "/post_topic go",
			wantReplies: []string{"Invalid topic index. Use /topics to see available topics."},
		},
		"negative index": {
			text:        "/post_topic -1",
			wantReplies: []string{"Invalid topic index. Use /topics to see available topics."},
		},
		"publish error": {
			text:        "/post_topic 2",
			err:         errors.New("telegram: sendMessage: Bad Request"),
			wantIndexes: []int{2},
			wantReplies: []string{
				`Generating post on topic "Zig"... Please wait.`,
				"Error creating post: telegram: sendMessage: Bad Request",
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h, bot, poster := newHandler(t, prompt.English)
			poster.err = tc.err
			h.Handle(t.Context(), message(adminID, tc.text))

			testutil.AssertEqual(t, poster.indexes, tc.wantIndexes)
			var got []string
			for _, r := range bot.replies {
				testutil.AssertEqual(t, r.ChatID, int64(chatID))
				got = append(got, r.Text)
			}
			testutil.AssertEqual(t, got, tc.wantReplies)
		})
	}
}

func TestPostRussian(t *testing.T) {
	t.Parallel()

	h, bot, _ := newHandler(t, prompt.Russian)
	h.Handle(t.Context(), message(adminID, "/post_topic 0"))
	testutil.AssertEqual(t, bot.replies, []reply{
		{chatID, `Генерирую пост на тему "Go"... Пожалуйста, подождите.`},
		{chatID, `Пост на тему "Go" успешно опубликован в канале.`},
	})
}
