// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package history keeps a bounded per-topic log of published posts in a JSON
// file.
//
// The file has the following layout:
//
//	{
//	  "posts": {"<topic>": [{"content": "...", "date": "2026-01-02T15:04:05.000Z"}]},
//	  "lastPostDates": {"<topic>": "2026-01-02T15:04:05.000Z"}
//	}
//
// Read methods never fail: missing or malformed data reads as no history.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"time"

	"go.astrophena.name/infobot/internal/atomicio"
)

const (
	// DefaultLimit is the number of posts kept per topic.
	DefaultLimit = 10
	// DefaultWindow is the number of previous posts consulted when building
	// a prompt.
	DefaultWindow = 3
	// DefaultRecency is the period during which a topic counts as recently
	// posted.
	DefaultRecency = 12 * time.Hour
)

// DateLayout is the layout of stored timestamps: ISO 8601 in UTC with
// millisecond precision.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// Post is a single published post.
type Post struct {
	Content string `json:"content"`
	Date    string `json:"date"`
}

// Time parses the post date.
func (p Post) Time() (time.Time, bool) { return parseDate(p.Date) }

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatDate(t time.Time) string { return t.UTC().Format(DateLayout) }

type state struct {
	Posts         map[string][]Post `json:"posts"`
	LastPostDates map[string]string `json:"lastPostDates"`
}

func emptyState() state {
	return state{
		Posts:         make(map[string][]Post),
		LastPostDates: make(map[string]string),
	}
}

// Options configure a Store.
type Options struct {
	// Limit is the number of posts kept per topic. Zero means DefaultLimit.
	Limit int
	// Backups is the number of previous versions of the file kept on each
	// write. Zero means atomicio.DefaultBackups, negative disables backups.
	Backups int
	// Logger receives warnings about malformed data and persistence errors.
	Logger *slog.Logger
	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
	// ReadOnly stores never write the file. Changes stay in memory.
	ReadOnly bool
}

// Store is a bounded per-topic post log persisted to a file. It is safe for
// concurrent use.
type Store struct {
	path   string
	limit  int
	writer   atomicio.Options
	log      *slog.Logger
	now      func() time.Time
	readOnly bool

	mu      sync.Mutex
	st      state
	saveErr error // last persistence error, nil after a successful write
	saved   time.Time
}

// Open loads the store from path. It never fails: a missing, empty or
// unparseable file yields an empty store, which is written back immediately
// unless opts.ReadOnly is set.
func Open(path string, opts Options) *Store {
	s := &Store{
		path:     path,
		limit:    opts.Limit,
		log:      opts.Logger,
		now:      opts.Now,
		readOnly: opts.ReadOnly,
	}
	if s.limit <= 0 {
		s.limit = DefaultLimit
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	switch {
	case opts.Backups == 0:
		s.writer.Backups = atomicio.DefaultBackups
	case opts.Backups > 0:
		s.writer.Backups = opts.Backups
	}
	s.writer.Now = s.now

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.load()
	s.st = st
	if !ok {
		s.persist()
	}
	return s
}

// load reads the file. It returns false if the store must be written back.
func (s *Store) load() (state, bool) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("history file does not exist, starting with empty history", "path", s.path)
		return emptyState(), false
	}
	if err != nil {
		s.log.Error("reading history file failed, starting with empty history", "path", s.path, "err", err)
		return emptyState(), false
	}
	if len(bytes.TrimSpace(b)) == 0 {
		s.log.Warn("history file is empty, starting with empty history", "path", s.path)
		return emptyState(), false
	}
	st, err := decode(b, s.log)
	if err != nil {
		s.log.Error("parsing history file failed, starting with empty history", "path", s.path, "err", err)
		return emptyState(), false
	}
	return st, true
}

// decode parses b, dropping the parts that don't have the expected shape.
func decode(b []byte, log *slog.Logger) (state, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return state{}, err
	}
	if top == nil {
		return state{}, errors.New("history is not a JSON object")
	}

	st := emptyState()

	var posts map[string]json.RawMessage
	if raw, ok := top["posts"]; !ok {
		log.Warn("history has no posts, initializing with defaults")
	} else if err := json.Unmarshal(raw, &posts); err != nil {
		log.Warn("history posts are not an object, ignoring them", "err", err)
	}
	for topic, raw := range posts {
		var list []Post
		if err := json.Unmarshal(raw, &list); err != nil || list == nil {
			log.Warn("invalid posts for topic, dropping them", "topic", topic)
			continue
		}
		st.Posts[topic] = list
	}

	var dates map[string]json.RawMessage
	if raw, ok := top["lastPostDates"]; !ok {
		log.Warn("history has no last post dates, initializing with defaults")
	} else if err := json.Unmarshal(raw, &dates); err != nil {
		log.Warn("history last post dates are not an object, ignoring them", "err", err)
	}
	for topic, raw := range dates {
		var date string
		if err := json.Unmarshal(raw, &date); err != nil {
			log.Warn("invalid last post date for topic, dropping it", "topic", topic)
			continue
		}
		st.LastPostDates[topic] = date
	}

	return st, nil
}

// persist writes the whole state to the file. s.mu must be held.
func (s *Store) persist() {
	if s.readOnly {
		return
	}
	b, err := json.MarshalIndent(s.st, "", "  ")
	if err == nil {
		err = s.writer.WriteFile(s.path, b, 0o644)
	}
	if err != nil {
		s.saveErr = err
		s.log.Error("saving history failed", "path", s.path, "err", err)
		return
	}
	s.saveErr = nil
	s.saved = s.now()
}

// AddPost appends content to the topic's log, evicting the oldest posts above
// the limit, and persists the store. A persistence failure is logged and
// reported by Health; the in-memory state is updated regardless.
func (s *Store) AddPost(topic, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := formatDate(s.now())
	posts := append(s.st.Posts[topic], Post{Content: content, Date: date})
	if over := len(posts) - s.limit; over > 0 {
		posts = slices.Clone(posts[over:])
	}
	s.st.Posts[topic] = posts
	s.st.LastPostDates[topic] = date

	s.persist()
	s.log.Debug("added post to history", "topic", topic, "posts", len(posts))
}

// PreviousPosts returns up to count most recent posts of topic, oldest first.
func (s *Store) PreviousPosts(topic string, count int) []Post {
	if count <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	posts := s.st.Posts[topic]
	if len(posts) > count {
		posts = posts[len(posts)-count:]
	}
	return slices.Clone(posts)
}

// WasRecentlyPosted reports whether the last post of topic happened less than
// threshold ago. Missing or malformed dates count as not recent.
func (s *Store) WasRecentlyPosted(topic string, threshold time.Duration) bool {
	last, ok := s.LastPostDate(topic)
	if !ok {
		return false
	}
	return s.now().Sub(last) < threshold
}

// LastPostDate returns the time of the last post of topic.
func (s *Store) LastPostDate(topic string) (time.Time, bool) {
	s.mu.Lock()
	date, ok := s.st.LastPostDates[topic]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	t, ok := parseDate(date)
	if !ok {
		s.log.Warn("invalid last post date", "topic", topic, "date", date)
	}
	return t, ok
}

// Topics returns the names of topics that have posts, sorted.
func (s *Store) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.st.Posts))
}

// Flush writes the current state to the file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist()
	return s.saveErr
}

// Health reports whether the last write succeeded. It has the signature of
// web.HealthFunc.
func (s *Store) Health() (status string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return fmt.Sprintf("saving %s failed: %v", s.path, s.saveErr), false
	}
	if s.saved.IsZero() {
		return "loaded, no writes yet", true
	}
	return "saved at " + formatDate(s.saved), true
}
