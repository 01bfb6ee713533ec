// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"strings"
	"unicode"
	"unicode/utf16"
)

const (
	maxMessageLength = 4096
	maxCaptionLength = 1024
)

// markdownV2Special are the characters EscapeMarkdownV2 prefixes with a
// backslash.
const markdownV2Special = "\\_*[]()~`>#+-=|{}.!"

var markdownV2 = func() *strings.Replacer {
	var oldnew []string
	for _, r := range markdownV2Special {
		oldnew = append(oldnew, string(r), `\`+string(r))
	}
	return strings.NewReplacer(oldnew...)
}()

// boldOverhead is the length FormatMarkdownV2 adds around a header.
const boldOverhead = len("**")

// sizer reports how many characters r takes in a sent message. Telegram
// measures lengths in UTF-16 code units.
type sizer func(r rune) int

func plainSize(r rune) int { return utf16.RuneLen(r) }

// markdownSize also counts the backslash added by EscapeMarkdownV2.
func markdownSize(r rune) int {
	if strings.ContainsRune(markdownV2Special, r) {
		return 1 + utf16.RuneLen(r)
	}
	return utf16.RuneLen(r)
}

func size(s string, sz sizer) int {
	var n int
	for _, r := range s {
		n += sz(r)
	}
	return n
}

// EscapeMarkdownV2 escapes every character that has a special meaning in
// Telegram MarkdownV2.
func EscapeMarkdownV2(s string) string { return markdownV2.Replace(s) }

// FormatMarkdownV2 escapes text for MarkdownV2. If header is true, the first
// line is rendered bold.
func FormatMarkdownV2(text string, header bool) string {
	if !header {
		return EscapeMarkdownV2(text)
	}
	first, rest, found := strings.Cut(text, "\n")
	if strings.TrimSpace(first) == "" {
		return EscapeMarkdownV2(text)
	}
	out := "*" + EscapeMarkdownV2(first) + "*"
	if found {
		out += "\n" + EscapeMarkdownV2(rest)
	}
	return out
}

// splitCaption splits caption into a part that fits into a photo caption once
// formatted and the remainder.
func splitCaption(caption string) (head, rest string) {
	caption = strings.TrimSpace(caption)
	limit := maxCaptionLength - boldOverhead
	if size(caption, markdownSize) <= limit {
		return caption, ""
	}
	i := cutIndex(caption, limit, markdownSize)
	return strings.TrimSpace(caption[:i]), strings.TrimSpace(caption[i:])
}

// splitText splits text into chunks no longer than limit as measured by sz,
// preferring to split on newlines and then on whitespace.
func splitText(text string, limit int, sz sizer) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for text != "" {
		if size(text, sz) <= limit {
			chunks = append(chunks, text)
			break
		}
		i := cutIndex(text, limit, sz)
		if chunk := strings.TrimSpace(text[:i]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[i:])
	}
	return chunks
}

// cutIndex returns the byte index to split text at so that the first part is
// at most limit long as measured by sz. A newline is preferred only in the
// second half of the window, so a short first line doesn't make a tiny chunk.
func cutIndex(text string, limit int, sz sizer) int {
	var (
		lastNewline    = -1
		lastWhitespace = -1
		byteCap        = len(text)
		used           int
	)

	for i, r := range text {
		n := sz(r)
		if used+n > limit {
			byteCap = i
			break
		}
		used += n

		if r == '\n' && used > limit/2 {
			lastNewline = i
		}
		if unicode.IsSpace(r) {
			lastWhitespace = i
		}
	}

	switch {
	case lastNewline > 0:
		return lastNewline
	case lastWhitespace > 0:
		return lastWhitespace
	}
	return byteCap
}
