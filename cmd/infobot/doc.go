// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Infobot writes posts about a fixed set of topics with Gemini and publishes them
to a Telegram channel.

It keeps a short history of posts for every topic and quotes the latest ones in
prompts, so that new posts don't repeat the previous ones.

# Usage

	$ infobot [flags...] <command> [args...]

Commands:

  - serve: publish posts on schedule and, if enabled, handle admin commands
    sent to the bot.
  - post [index|name|random|all]: publish a post once and exit. Without an
    argument, the default topic is used.
  - topics: list configured topics.
  - history [topic]: print post dates by topic, or posts about one topic.

# Environment Variables

Variables are read from the process environment and from the file passed with
-env-file (.env by default), in that order.

  - GEMINI_API_KEY: Gemini API key. Required for serve and post.
  - GEMINI_MODEL: text model. Defaults to gemini-2.5-flash.
  - GEMINI_IMAGE_MODEL: image model. Defaults to imagen-4.0-generate-001.
  - MAX_TOKENS: maximum length of generated text, in tokens. Defaults to 2000.
  - TEMPERATURE: sampling temperature. Defaults to 0.7.
  - GENERATION_RPM: maximum Gemini requests per minute. Unlimited by default.
  - TELEGRAM_BOT_TOKEN: Telegram bot token. Required for serve and post.
  - TELEGRAM_CHANNEL_ID: channel posts are published to. Required for serve
    and post.
  - ENABLE_COMMANDS: set to true to handle commands sent to the bot.
  - ADMIN_USER_IDS: comma-separated Telegram user IDs allowed to use commands.
  - PROXY_ENABLED, PROXY_HOST, PROXY_PORT, PROXY_USERNAME, PROXY_PASSWORD: HTTP
    proxy for all outgoing requests.
  - CRON_SCHEDULE: when to publish posts about the default topic, in cron
    format, UTC. Defaults to "0 * * * *" (hourly).
  - LANGUAGE: language of posts, ru or en. Defaults to ru.
  - GENERATE_IMAGES: set to true to attach generated images to posts.
  - ENABLE_WEB_SEARCH: set to true to use web search for topics that allow it.
  - RUN_ON_STARTUP: set to true to publish a post shortly after serve starts.
  - TEST_BOT_ON_STARTUP: set to true to send a message to the channel when
    serve starts.
  - DEFAULT_TOPIC: name of the default topic.
  - TOPICS_FILE: file with topics, same as -topics.
  - STATE_DIRECTORY: directory with post history and images, same as -state.
    Defaults to $XDG_STATE_HOME/infobot.
  - ADDR: address of the HTTP server with health checks and the admin API. The
    server is not started if it's empty.
  - ADMIN_TOKEN: bearer token required by the admin API. Must be set with ADDR.

# Topics

Topics are loaded from a YAML file:

	topics:
	  - name: Go
	    prompts:
	      en: Share a useful Go tip.
	    image_prompts:
	      en: Gopher at a computer
	    feeds:
	      - https://go.dev/blog/feed.atom
	    web_search: true

or from a Starlark file, if its name ends with .star:

	topics = [
	    topic(
	        name = "Go",
	        prompts = {"en": "Share a useful Go tip."},
	        feeds = ["https://go.dev/blog/feed.atom"],
	    ),
	]

Without a file, built-in topics are used.

# Admin API

When ADDR is set, serve exposes:

  - GET /health: health checks (history, scheduler, poller). Add ?check=name
    to run only some of them.
  - GET /api/topics: configured topics.
  - GET /api/history?topic=: post history.
  - POST /api/post?topic=: publish a post. The topic is an index, a name or
    "random". Without it, the default topic is used.
  - GET /debug/logs: recent log lines. Add ?follow=1 to stream new ones.

Everything except /health requires the ADMIN_TOKEN bearer token.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/infobot/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
