// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"go.astrophena.name/infobot/internal/request"
	"go.astrophena.name/infobot/internal/testutil"
)

type call struct {
	method string
	args   any
}

// recorder replaces Bot.makeRequest. Calls for which fail returns an error
// fail.
type recorder struct {
	mu    sync.Mutex
	calls []call
	fail  func(method string, args any) error
}

func (r *recorder) makeRequest(_ context.Context, method string, args any) (json.RawMessage, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call{method, args})
	r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(method, args); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`true`), nil
}

func testBot(t *testing.T, r *recorder) *Bot {
	t.Helper()
	b := New(Config{
		Token:  "token",
		ChatID: "@channel",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	b.makeRequest = r.makeRequest
	b.sleep = func(context.Context, time.Duration) bool { return true }
	return b
}

func isRich(args any) bool {
	switch a := args.(type) {
	case *sendMessage:
		return a.ParseMode != ""
	case *upload:
		return a.fields["parse_mode"] != ""
	}
	return false
}

func TestFormatMarkdownV2(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in     string
		header bool
		want   string
	}{
		"plain": {
			in:   "Hello, world",
			want: "Hello, world",
		},
		"specials": {
			in:   `a_b*c[d](e)~f` + "`" + `g>h#i+j-k=l|m{n}o.p!q\r`,
			want: `a\_b\*c\[d\]\(e\)\~f\` + "`" + `g\>h\#i\+j\-k\=l\|m\{n\}o\.p\!q\\r`,
		},
		"header": {
			in:     "📝 Tech-news\n\nVersion 1.2 is out!",
			header: true,
			want:   "*📝 Tech\\-news*\n\nVersion 1\\.2 is out\\!",
		},
		"header only": {
			in:     "📝 Title",
			header: true,
			want:   "*📝 Title*",
		},
		"empty first line": {
			in:     "\nbody.",
			header: true,
			want:   "\nbody\\.",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			testutil.AssertEqual(t, FormatMarkdownV2(tc.in, tc.header), tc.want)
		})
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		in   string
		want []string
	}{
		"empty":             {in: "  ", want: nil},
		"short":             {in: "hello", want: []string{"hello"}},
		"exact":             {in: strings.Repeat("a", 4096), want: []string{strings.Repeat("a", 4096)}},
		"long (no newline)": {in: strings.Repeat("a", 4100), want: []string{strings.Repeat("a", 4096), "aaaa"}},
		"long (single line with spaces)": {
			in:   strings.Repeat("a", 3000) + " " + strings.Repeat("b", 1500),
			want: []string{strings.Repeat("a", 3000), strings.Repeat("b", 1500)},
		},
		"long (newline split)": {
			in:   strings.Repeat("a", 4000) + "\n" + strings.Repeat("b", 100),
			want: []string{strings.Repeat("a", 4000), strings.Repeat("b", 100)},
		},
		"multi-byte unicode": {
			in:   strings.Repeat("ы", 4095) + "\n" + "ы",
			want: []string{strings.Repeat("ы", 4095), "ы"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			testutil.AssertEqual(t, splitText(tc.in, maxMessageLength, plainSize), tc.want)
		})
	}
}

func TestSplitTextNewlineRich(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("line\n", 900)
	got := splitText(in, maxMessageLength, plainSize)
	if len(got) < 2 {
		t.Fatalf("want at least 2 chunks, got %d", len(got))
	}
	for i, chunk := range got {
		if utf8.RuneCountInString(chunk) > maxMessageLength {
			t.Fatalf("chunk %d exceeds rune cap: %d", i, utf8.RuneCountInString(chunk))
		}
	}
	testutil.AssertEqual(t, strings.Join(got, "\n"), strings.TrimSpace(in))
}

func TestSplitCaption(t *testing.T) {
	t.Parallel()

	head, rest := splitCaption("📝 Topic\n\nshort")
	testutil.AssertEqual(t, head, "📝 Topic\n\nshort")
	testutil.AssertEqual(t, rest, "")

	var (
		first  = strings.TrimSpace(strings.Repeat("word ", 150))
		second = strings.TrimSpace(strings.Repeat("more ", 150))
	)
	head, rest = splitCaption("📝 Topic\n\n" + first + "\n" + second)
	testutil.AssertEqual(t, head, "📝 Topic\n\n"+first)
	testutil.AssertEqual(t, rest, second)

	// Without paragraphs the caption is cut on a space.
	head, rest = splitCaption(strings.Repeat("word ", 300))
	if n := utf8.RuneCountInString(head); n > maxCaptionLength {
		t.Fatalf("head has %d runes", n)
	}
	testutil.AssertEqual(t, head+" "+rest, strings.TrimSpace(strings.Repeat("word ", 300)))

	// A long first paragraph is cut on a space, not right after the header.
	long := strings.TrimSpace(strings.Repeat("word ", 300))
	head, rest = splitCaption("📝 Topic\n\n" + long)
	if n := utf8.RuneCountInString(head); n < maxCaptionLength/2 {
		t.Fatalf("head has only %d runes: %q", n, head)
	}
	testutil.AssertEqual(t, head+" "+rest, "📝 Topic\n\n"+long)
}

func utf16Len(s string) int { return len(utf16.Encode([]rune(s))) }

func TestSplitFormattedFits(t *testing.T) {
	t.Parallel()

	paragraph := "Go 1.25 (released in Aug.) adds new APIs: e.g. testing/synctest! See go.dev/doc #notes - and more.\n"
	text := "📝 Release notes\n\n" + strings.Repeat(paragraph, 100)

	head, rest := splitCaption(text)
	if rest == "" {
		t.Fatal("caption wasn't split")
	}
	formatted := FormatMarkdownV2(head, true)
	if n := utf8.RuneCountInString(formatted); n > maxCaptionLength {
		t.Fatalf("formatted caption has %d runes", n)
	}
	if n := utf16Len(formatted); n > maxCaptionLength {
		t.Fatalf("formatted caption has %d UTF-16 code units", n)
	}
	testutil.AssertEqual(t, head+"\n"+rest, strings.TrimSpace(text))

	chunks := splitText(text, maxMessageLength-boldOverhead, markdownSize)
	if len(chunks) < 2 {
		t.Fatalf("want at least 2 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if n := utf16Len(FormatMarkdownV2(chunk, i == 0)); n > maxMessageLength {
			t.Errorf("formatted chunk %d has %d UTF-16 code units", i, n)
		}
	}
	testutil.AssertEqual(t, strings.Join(chunks, "\n"), strings.TrimSpace(text))
}

func TestSplitTextCountsUTF16(t *testing.T) {
	t.Parallel()

	// Each emoji takes two UTF-16 code units.
	chunks := splitText(strings.Repeat("🤖", 3000), maxMessageLength, plainSize)
	testutil.AssertEqual(t, len(chunks), 2)
	testutil.AssertEqual(t, utf8.RuneCountInString(chunks[0]), maxMessageLength/2)
}

func TestSendText(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	b := testBot(t, r)

	if err := b.SendText(t.Context(), "📝 Topic\n\nHello."); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(r.calls), 1)
	msg := r.calls[0].args.(*sendMessage)
	testutil.AssertEqual(t, msg.ChatID, "@channel")
	testutil.AssertEqual(t, msg.ParseMode, "MarkdownV2")
	testutil.AssertEqual(t, msg.Text, "*📝 Topic*\n\nHello\\.")
}

func TestSendNotice(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	b := testBot(t, r)

	if err := b.SendNotice(t.Context(), "🤖 Up. Use /help"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(r.calls), 1)
	msg := r.calls[0].args.(*sendMessage)
	testutil.AssertEqual(t, msg.ParseMode, "MarkdownV2")
	testutil.AssertEqual(t, msg.Text, "🤖 Up\\. Use /help")
}

func TestSendTextFallback(t *testing.T) {
	t.Parallel()

	r := &recorder{fail: func(_ string, args any) error {
		if isRich(args) {
			return &request.StatusError{StatusCode: 400, Body: []byte(`{"ok":false,"description":"can't parse entities"}`)}
		}
		return nil
	}}
	b := testBot(t, r)

	if err := b.SendText(t.Context(), "📝 Topic\n\nHello."); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(r.calls), 2)
	plain := r.calls[1].args.(*sendMessage)
	testutil.AssertEqual(t, plain.ParseMode, "")
	testutil.AssertEqual(t, plain.Text, "📝 Topic\n\nHello.")
}

func TestSendTextFails(t *testing.T) {
	t.Parallel()

	errDown := errors.New("telegram is down")
	r := &recorder{fail: func(string, any) error { return errDown }}
	b := testBot(t, r)

	if err := b.SendText(t.Context(), "hello"); !errors.Is(err, errDown) {
		t.Fatalf("want %v, got %v", errDown, err)
	}
	if err := b.SendText(t.Context(), " "); err == nil {
		t.Fatal("want error for an empty message")
	}
}

func writePhoto(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSendPhoto(t *testing.T) {
	t.Parallel()

	errRejected := &request.StatusError{StatusCode: 400, Body: []byte(`{}`)}

	cases := map[string]struct {
		caption     string
		missing     bool
		fail        func(method string, args any) error
		wantMethods []string
		wantRich    []bool
	}{
		"formatted": {
			caption:     "📝 Topic\n\nHello.",
			wantMethods: []string{"sendPhoto"},
			wantRich:    []bool{true},
		},
		"plain caption": {
			caption: "📝 Topic\n\nHello.",
			fail: func(_ string, args any) error {
				if isRich(args) {
					return errRejected
				}
				return nil
			},
			wantMethods: []string{"sendPhoto", "sendPhoto"},
			wantRich:    []bool{true, false},
		},
		"text only": {
			caption: "📝 Topic\n\nHello.",
			fail: func(method string, _ any) error {
				if method == "sendPhoto" {
					return errRejected
				}
				return nil
			},
			wantMethods: []string{"sendPhoto", "sendPhoto", "sendMessage"},
			wantRich:    []bool{true, false, true},
		},
		"missing file": {
			caption:     "📝 Topic\n\nHello.",
			missing:     true,
			wantMethods: []string{"sendMessage"},
			wantRich:    []bool{true},
		},
		"long caption": {
			caption:     "📝 Topic\n\n" + strings.Repeat("word ", 300),
			wantMethods: []string{"sendPhoto", "sendMessage"},
			wantRich:    []bool{true, true},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r := &recorder{fail: tc.fail}
			b := testBot(t, r)

			path := writePhoto(t)
			if tc.missing {
				path = filepath.Join(t.TempDir(), "missing.png")
			}
			if err := b.SendPhoto(t.Context(), path, tc.caption); err != nil {
				t.Fatal(err)
			}

			var (
				methods []string
				rich    []bool
			)
			for _, c := range r.calls {
				methods = append(methods, c.method)
				rich = append(rich, isRich(c.args))
			}
			testutil.AssertEqual(t, methods, tc.wantMethods)
			testutil.AssertEqual(t, rich, tc.wantRich)
		})
	}
}

func TestSendRateLimitRetry(t *testing.T) {
	t.Parallel()

	var calls int
	r := &recorder{fail: func(string, any) error {
		calls++
		if calls == 1 {
			return &request.StatusError{StatusCode: 429, Body: []byte(`{"parameters":{"retry_after":1}}`)}
		}
		return nil
	}}
	b := testBot(t, r)
	var waits []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}

	if err := b.SendText(t.Context(), "hello"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, calls, 2)
	testutil.AssertEqual(t, waits, []time.Duration{time.Second})
}

func TestSendRateLimitCanceled(t *testing.T) {
	t.Parallel()

	r := &recorder{fail: func(string, any) error {
		return &request.StatusError{StatusCode: 429, Body: []byte(`{"parameters":{"retry_after":30}}`)}
	}}
	b := testBot(t, r)
	b.sleep = func(context.Context, time.Duration) bool { return false }

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := b.Reply(ctx, 42, "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestIsRateLimited(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err      error
		retry    bool
		waitTime time.Duration
	}{
		"rate-limited": {
			err:      &request.StatusError{StatusCode: 429, Body: []byte(`{"parameters":{"retry_after":3}}`)},
			retry:    true,
			waitTime: 3 * time.Second,
		},
		"wrapped": {
			err:      fmt.Errorf("sending: %w", &request.StatusError{StatusCode: 429, Body: []byte(`{"parameters":{"retry_after":2}}`)}),
			retry:    true,
			waitTime: 2 * time.Second,
		},
		"bad body": {
			err: &request.StatusError{StatusCode: 429, Body: []byte(`oops`)},
		},
		"other status": {
			err: &request.StatusError{StatusCode: 500, Body: []byte(`{}`)},
		},
		"other error": {
			err: errors.New("network"),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			retry, wait := isRateLimited(tc.err)
			testutil.AssertEqual(t, retry, tc.retry)
			testutil.AssertEqual(t, wait, tc.waitTime)
		})
	}
}

func TestAPI(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		photos []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/botsecret/getMe":
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Infobot","username":"infobot"}}`)
		case "/botsecret/getUpdates":
			var args struct {
				Offset int64 `json:"offset"`
			}
			if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
				t.Error(err)
			}
			fmt.Fprintf(w, `{"ok":true,"result":[{"update_id":%d,"message":{"message_id":1,"from":{"id":7,"is_bot":false,"first_name":"Admin"},"chat":{"id":7,"type":"private"},"text":"/help"}}]}`, args.Offset)
		case "/botsecret/sendPhoto":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Error(err)
				return
			}
			f, _, err := r.FormFile("photo")
			if err != nil {
				t.Error(err)
				return
			}
			b, _ := io.ReadAll(f)
			fields := map[string]string{"photo": string(b)}
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			mu.Lock()
			photos = append(photos, fields)
			mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{}}`)
		case "/botsecret/sendMessage":
			io.WriteString(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	b := New(Config{
		Token:      "secret",
		ChatID:     "@channel",
		APIURL:     srv.URL,
		HTTPClient: srv.Client(),
		Scrubber:   strings.NewReplacer("secret", "[EXPUNGED]"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	me, err := b.GetMe(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, me, User{ID: 1, IsBot: true, FirstName: "Infobot", Username: "infobot"})

	updates, err := b.GetUpdates(t.Context(), 41, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(updates), 1)
	testutil.AssertEqual(t, updates[0].UpdateID, int64(41))
	testutil.AssertEqual(t, updates[0].Message.Text, "/help")
	testutil.AssertEqual(t, updates[0].Message.From.ID, int64(7))

	if err := b.SendPhoto(t.Context(), writePhoto(t), "📝 Topic\n\nHi!"); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, photos, []map[string]string{{
		"photo":      "png",
		"chat_id":    "@channel",
		"caption":    "*📝 Topic*\n\nHi\\!",
		"parse_mode": "MarkdownV2",
	}})

	err = b.Reply(t.Context(), 7, "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("want chat not found error, got %v", err)
	}

	_, err = b.makeRequest(t.Context(), "unknown", struct{}{})
	if err == nil {
		t.Fatal("want error")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("token leaked into error: %v", err)
	}
}

func TestPoller(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var (
		polls  int
		mu     sync.Mutex
		got    []string
		offset []int64
	)
	b := testBot(t, &recorder{})
	b.makeRequest = func(_ context.Context, method string, args any) (json.RawMessage, error) {
		offset = append(offset, args.(map[string]any)["offset"].(int64))
		polls++
		switch polls {
		case 1:
			return nil, errors.New("network is down")
		case 2:
			return json.RawMessage(`[
				{"update_id": 10, "message": {"message_id": 1, "chat": {"id": 1, "type": "private"}, "text": "/help"}},
				{"update_id": 11},
				{"update_id": 12, "message": {"message_id": 2, "chat": {"id": 1, "type": "private"}, "text": "/panic"}}
			]`), nil
		default:
			cancel()
			return nil, ctx.Err()
		}
	}
	var sleeps []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		return true
	}

	p := &Poller{
		Bot: b,
		Handler: func(_ context.Context, msg *Message) {
			if msg.Text == "/panic" {
				panic("boom")
			}
			mu.Lock()
			got = append(got, msg.Text)
			mu.Unlock()
		},
	}
	if status, ok := p.Health(); ok {
		t.Fatalf("not running poller reports healthy: %s", status)
	}
	if err := p.Run(ctx); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, got, []string{"/help"})
	testutil.AssertEqual(t, offset, []int64{0, 0, 13})
	testutil.AssertEqual(t, sleeps, []time.Duration{time.Second})
}

func TestPollerHealth(t *testing.T) {
	t.Parallel()

	p := &Poller{now: func() time.Time { return time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC) }}

	p.state.Access(func(s *pollState) { s.running = true })
	status, ok := p.Health()
	testutil.AssertEqual(t, status, "starting")
	testutil.AssertEqual(t, ok, true)

	p.state.Access(func(s *pollState) { s.lastPoll = p.timeNow() })
	status, ok = p.Health()
	testutil.AssertEqual(t, status, "last poll at 2026-03-14T09:00:00Z")
	testutil.AssertEqual(t, ok, true)

	p.state.Access(func(s *pollState) { s.lastErr = errors.New("boom") })
	status, ok = p.Health()
	testutil.AssertEqual(t, status, "last poll failed: boom")
	testutil.AssertEqual(t, ok, false)
}
