// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package httplogger

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(srv.Close)

	cases := map[string]struct {
		level      slog.Level
		wantLogged bool
	}{
		"debug": {level: slog.LevelDebug, wantLogged: true},
		"info":  {level: slog.LevelInfo, wantLogged: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tc.level}))
			c := &http.Client{Transport: New(nil, log, strings.NewReplacer("secret", "[EXPUNGED]"))}

			res, err := c.Get(srv.URL + "/botsecret/getMe")
			if err != nil {
				t.Fatal(err)
			}
			res.Body.Close()
			if res.StatusCode != http.StatusTeapot {
				t.Fatalf("status = %d", res.StatusCode)
			}

			out := buf.String()
			if strings.Contains(out, "secret") {
				t.Errorf("log leaks the secret: %s", out)
			}
			if !tc.wantLogged {
				if out != "" {
					t.Errorf("want nothing logged, got: %s", out)
				}
				return
			}
			for _, want := range []string{"http request", "method=GET", "/bot[EXPUNGED]/getMe", "status=418"} {
				if !strings.Contains(out, want) {
					t.Errorf("log doesn't contain %q: %s", want, out)
				}
			}
		})
	}
}

func TestRoundTripError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := &http.Client{Transport: New(nil, log, nil)}
	if _, err := c.Get(url); err == nil {
		t.Fatal("want error from a closed server")
	}
	if !strings.Contains(buf.String(), "err=") {
		t.Errorf("error not logged: %s", buf.String())
	}
}
