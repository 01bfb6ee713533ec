// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements publishing and command polling over the
// Telegram Bot API.
package telegram

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/infobot/internal/request"
)

const (
	// DefaultAPI is the Telegram Bot API endpoint.
	DefaultAPI     = "https://api.telegram.org"
	sendRetryLimit = 5 // N attempts to retry message sending
	parseMode      = "MarkdownV2"
)

// Config configures a Bot.
type Config struct {
	// Token is the bot token.
	Token string
	// ChatID is the channel posts are published to, either numeric or
	// @username.
	ChatID string
	// APIURL defaults to DefaultAPI.
	APIURL string
	// HTTPClient must not time out sooner than the poll timeout. Defaults to
	// a client with a one minute timeout.
	HTTPClient *http.Client
	// Scrubber removes secrets from error messages.
	Scrubber *strings.Replacer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Bot talks to the Telegram Bot API. It is safe for concurrent use.
type Bot struct {
	token       string
	chatID      string
	api         string
	httpc       *http.Client
	scrubber    *strings.Replacer
	slog        *slog.Logger
	makeRequest func(ctx context.Context, method string, args any) (json.RawMessage, error)
	sleep       func(context.Context, time.Duration) bool
}

// New returns a new Bot.
func New(cfg Config) *Bot {
	b := &Bot{
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		api:      cmp.Or(cfg.APIURL, DefaultAPI),
		httpc:    cfg.HTTPClient,
		scrubber: cfg.Scrubber,
		slog:     cfg.Logger,
	}
	if b.httpc == nil {
		b.httpc = &http.Client{Timeout: time.Minute}
	}
	if b.slog == nil {
		b.slog = slog.Default()
	}
	b.makeRequest = b.makeTelegramRequest
	b.sleep = sleep
	return b
}

// User is a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat is a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is an incoming message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// Update is an incoming update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type sendMessage struct {
	ChatID             string `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// upload is a multipart request that sends a file.
type upload struct {
	fields    map[string]string
	fileField string
	path      string
}

// SendText publishes text to the channel. The first line is rendered bold.
// Text longer than a single message is split. If Telegram rejects the
// formatted text, the message is sent again as plain text.
func (b *Bot) SendText(ctx context.Context, text string) error {
	return b.sendText(ctx, text, true)
}

// SendNotice publishes text to the channel without a header.
func (b *Bot) SendNotice(ctx context.Context, text string) error {
	return b.sendText(ctx, text, false)
}

func (b *Bot) sendText(ctx context.Context, text string, header bool) error {
	chunks := splitText(text, maxMessageLength-boldOverhead, markdownSize)
	if len(chunks) == 0 {
		return errors.New("telegram: empty message")
	}
	for i, chunk := range chunks {
		rich := &sendMessage{ChatID: b.chatID, Text: FormatMarkdownV2(chunk, header && i == 0), ParseMode: parseMode}
		err := b.send(ctx, "sendMessage", rich)
		if err == nil {
			continue
		}
		b.slog.Warn("sending formatted message failed, retrying as plain text", "err", err)
		if perr := b.send(ctx, "sendMessage", &sendMessage{ChatID: b.chatID, Text: chunk}); perr != nil {
			return fmt.Errorf("telegram: sending message: %w", errors.Join(err, perr))
		}
	}
	return nil
}

// SendPhoto publishes the image at path with caption. Captions longer than
// Telegram allows are split: the beginning goes with the photo and the rest is
// sent as a separate message.
//
// If the formatted caption is rejected, the photo is sent with a plain caption.
// If the photo can't be sent at all, only the caption is published.
func (b *Bot) SendPhoto(ctx context.Context, path, caption string) error {
	if _, err := os.Stat(path); err != nil {
		b.slog.Warn("photo is missing, sending text only", "path", path, "err", err)
		return b.SendText(ctx, caption)
	}

	head, rest := splitCaption(caption)
	photo := func(caption, mode string) *upload {
		u := &upload{
			fields:    map[string]string{"chat_id": b.chatID, "caption": caption},
			fileField: "photo",
			path:      path,
		}
		if mode != "" {
			u.fields["parse_mode"] = mode
		}
		return u
	}

	err := b.send(ctx, "sendPhoto", photo(FormatMarkdownV2(head, true), parseMode))
	if err != nil {
		b.slog.Warn("sending photo with formatted caption failed, retrying with plain caption", "err", err)
		if err = b.send(ctx, "sendPhoto", photo(head, "")); err != nil {
			b.slog.Warn("sending photo failed, sending text only", "err", err)
			return b.SendText(ctx, caption)
		}
	}

	if rest != "" {
		return b.sendText(ctx, rest, false)
	}
	return nil
}

// Reply sends a plain text message to chatID.
func (b *Bot) Reply(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitText(text, maxMessageLength, plainSize) {
		if err := b.send(ctx, "sendMessage", &sendMessage{ChatID: strconv.FormatInt(chatID, 10), Text: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// GetMe returns the bot's own user.
func (b *Bot) GetMe(ctx context.Context) (User, error) {
	var me User
	res, err := b.makeRequest(ctx, "getMe", struct{}{})
	if err != nil {
		return me, err
	}
	return me, json.Unmarshal(res, &me)
}

// GetUpdates long polls for updates starting with offset.
func (b *Bot) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	res, err := b.makeRequest(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []Update
	return updates, json.Unmarshal(res, &updates)
}

// send makes a request, retrying it when rate limited.
func (b *Bot) send(ctx context.Context, method string, args any) error {
	var err error
	for range sendRetryLimit {
		_, err = b.makeRequest(ctx, method, args)
		if err == nil {
			return nil
		}

		retryable, wait := isRateLimited(err)
		if !retryable {
			break
		}

		b.slog.Warn("sending rate limited, waiting", slog.String("method", method), slog.Duration("wait", wait))
		if !b.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
	return err
}

type response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (b *Bot) makeTelegramRequest(ctx context.Context, method string, args any) (json.RawMessage, error) {
	p := request.Params{
		Method:     http.MethodPost,
		URL:        b.api + "/bot" + b.token + "/" + method,
		Body:       args,
		HTTPClient: b.httpc,
		Scrubber:   b.scrubber,
	}
	if u, ok := args.(*upload); ok {
		body, contentType, err := u.encode()
		if err != nil {
			return nil, err
		}
		p.Body = body
		p.Headers = map[string]string{"Content-Type": contentType}
	}

	res, err := request.Make[response](ctx, p)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, res.Description)
	}
	return res.Result, nil
}

func (u *upload) encode() (io.Reader, string, error) {
	f, err := os.Open(u.path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range u.fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	fw, err := w.CreateFormFile(u.fileField, filepath.Base(u.path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
