// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"go.astrophena.name/infobot/internal/testutil"
)

func TestGetPut(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf)
	ctx := Put(context.Background(), l)

	testutil.AssertEqual(t, Get(ctx) == l, true)
	if Get(context.Background()) == nil {
		t.Fatal("Get returned nil for an empty context")
	}

	Get(ctx).Debug("hidden")
	l.Level.Set(slog.LevelDebug)
	Get(ctx).Debug("shown")
	Error(ctx, "failed", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record logged at info level: %q", out)
	}
	for _, want := range []string{"shown", "failed", "err=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestBuffer(t *testing.T) {
	t.Parallel()

	b := NewBuffer(3)
	for _, line := range []string{"one", "two", "three", "four"} {
		b.Write([]byte(line + "\n"))
	}
	b.Write([]byte("partial"))

	testutil.AssertEqual(t, b.Lines(), []string{"two\n", "three\n", "four\n"})

	lines, stop := b.Follow()
	b.Write([]byte(" line\n"))
	testutil.AssertEqual(t, <-lines, "partial line\n")
	stop()
}

func TestBufferServeHTTP(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10)
	b.Write([]byte("hello\nworld\n"))

	w := httptest.NewRecorder()
	b.ServeHTTP(w, httptest.NewRequest("GET", "/debug/logs", nil))

	testutil.AssertEqual(t, w.Body.String(), "hello\nworld\n")
}
