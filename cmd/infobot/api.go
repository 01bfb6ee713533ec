// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.astrophena.name/infobot/cmd/infobot/internal/history"
	"go.astrophena.name/infobot/cmd/infobot/internal/topic"
	"go.astrophena.name/infobot/internal/web"
)

type topicResponse struct {
	Index    int        `json:"index"`
	Default  bool       `json:"default,omitempty"`
	LastPost *time.Time `json:"last_post,omitempty"`
	topic.Topic
}

func (d *deps) handleTopics(w http.ResponseWriter, r *http.Request) {
	def, _ := d.topics.Default()
	var topics []topicResponse
	for i, t := range d.topics.Topics() {
		tr := topicResponse{Index: i, Default: i == def, Topic: t}
		if last, ok := d.history.LastPostDate(t.Name); ok {
			tr.LastPost = &last
		}
		topics = append(topics, tr)
	}
	web.RespondJSON(w, topics)
}

func (d *deps) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("topic")
	if name == "" {
		posts := make(map[string][]history.Post)
		for _, t := range d.history.Topics() {
			posts[t] = d.history.PreviousPosts(t, history.DefaultLimit)
		}
		web.RespondJSON(w, posts)
		return
	}
	posts := d.history.PreviousPosts(name, history.DefaultLimit)
	if posts == nil {
		posts = []history.Post{}
	}
	web.RespondJSON(w, posts)
}

// handlePost publishes a post and responds when it's done.
func (d *deps) handlePost(w http.ResponseWriter, r *http.Request) {
	results, err := d.publish(r.Context(), r.URL.Query().Get("topic"))
	if errors.Is(err, topic.ErrInvalidIndex) {
		web.RespondJSONError(w, r, fmt.Errorf("%w: %v", web.ErrBadRequest, err))
		return
	}
	if err != nil {
		web.RespondJSONError(w, r, err)
		return
	}
	web.RespondJSON(w, results)
}
