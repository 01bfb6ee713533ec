// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"container/ring"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Buffer is an io.Writer that keeps the last logged lines in memory and lets
// HTTP clients follow new ones as they arrive.
type Buffer struct {
	mu        sync.RWMutex
	size      int
	remainder string
	r         *ring.Ring
	streams   map[chan string]struct{}
}

// NewBuffer returns a Buffer that keeps at most size lines.
func NewBuffer(size int) *Buffer {
	return &Buffer{
		size:    size,
		r:       ring.New(size),
		streams: make(map[chan string]struct{}),
	}
}

// Write implements the io.Writer interface.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := b.remainder + string(p)
	for {
		idx := strings.IndexByte(text, '\n')
		if idx == -1 {
			break
		}
		line := text[:idx+1]
		b.r.Value = line
		for s := range b.streams {
			select {
			case s <- line:
			default:
				// Slow readers miss lines.
			}
		}
		b.r = b.r.Next()
		text = text[idx+1:]
	}
	b.remainder = text
	return len(p), nil
}

// Lines returns the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lines := make([]string, 0, b.size)
	b.r.Do(func(x any) {
		if x != nil {
			lines = append(lines, x.(string))
		}
	})
	return lines
}

// Follow returns a channel that receives newly written lines. Call the
// returned function to stop following.
func (b *Buffer) Follow() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := make(chan string, b.size+1)
	b.streams[s] = struct{}{}
	return s, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.streams, s)
		close(s)
	}
}

// ServeHTTP writes the buffered lines. With the follow query parameter set,
// it keeps the connection open and streams new lines as server-sent events.
func (b *Buffer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")

	if r.URL.Query().Get("follow") == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, line := range b.Lines() {
			fmt.Fprint(w, line)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	lines, stop := b.Follow()
	defer stop()

	for {
		select {
		case line := <-lines:
			fmt.Fprintf(w, "event: logline\ndata: %s\n", line)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}
