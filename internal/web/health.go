// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"

	"go.astrophena.name/infobot/internal/syncx"
)

// Health returns the [HealthHandler] mounted on mux at /health. The first
// call mounts it.
func Health(mux *http.ServeMux) *HealthHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat == "/health" {
		return hh
	}
	hh := &HealthHandler{checks: syncx.Protect(make(map[string]HealthFunc))}
	mux.Handle("/health", hh)
	return hh
}

// HealthHandler reports the state of the subsystems registered with
// RegisterFunc. The check query parameter, which may be repeated, limits the
// report to the named subsystems.
type HealthHandler struct {
	checks *syncx.Protected[map[string]HealthFunc]
}

// HealthFunc reports the state of a subsystem. It must be safe for concurrent
// use.
type HealthFunc func() (status string, ok bool)

// RegisterFunc adds a check named name. It panics if name is already taken.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.Access(func(checks *map[string]HealthFunc) {
		if _, dup := (*checks)[name]; dup {
			panic(fmt.Sprintf("health: check %q is already registered", name))
		}
		(*checks)[name] = f
	})
}

// HealthResponse is the body of a /health response.
type HealthResponse struct {
	OK     bool                     `json:"ok"`
	Checks map[string]CheckResponse `json:"checks"`
}

// CheckResponse is the result of a single check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

// Check runs the named checks, or all of them if names is empty. An unknown
// name is reported as [ErrNotFound].
func (h *HealthHandler) Check(names ...string) (*HealthResponse, error) {
	// Checks run on a copy, so a slow one doesn't block registration.
	var all map[string]HealthFunc
	h.checks.RAccess(func(checks map[string]HealthFunc) { all = maps.Clone(checks) })

	selected := all
	if len(names) > 0 {
		selected = make(map[string]HealthFunc, len(names))
		for _, name := range names {
			f, ok := all[name]
			if !ok {
				return nil, fmt.Errorf("%w: no health check %q", ErrNotFound, name)
			}
			selected[name] = f
		}
	}

	hr := &HealthResponse{OK: true, Checks: make(map[string]CheckResponse, len(selected))}
	for name, f := range selected {
		status, ok := f()
		hr.OK = hr.OK && ok
		hr.Checks[name] = CheckResponse{Status: status, OK: ok}
	}
	return hr, nil
}

// ServeHTTP implements the [http.Handler] interface. Failing checks make the
// response 503 Service Unavailable.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hr, err := h.Check(r.URL.Query()["check"]...)
	if err != nil {
		RespondJSONError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !hr.OK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	RespondJSON(w, hr)
}
