// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

//go:build unix

package filelock

import (
	"errors"
	"path/filepath"
	"testing"

	"go.astrophena.name/infobot/internal/testutil"
)

func TestAcquireConflict(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "infobot.lock")
	first, err := Acquire(path, "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := first.Release(); err != nil {
			t.Fatal(err)
		}
	})

	_, err = Acquire(path, "")
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("want %v, got %v", ErrAlreadyLocked, err)
	}
}

func TestHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "infobot.lock")
	testutil.AssertEqual(t, Holder(path), "")

	lock, err := Acquire(path, "pid=123\n")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, Holder(path), "pid=123")

	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	// Releasing twice is harmless.
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, Holder(path), "")
}

func TestIsLockedLifecycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "infobot.lock")
	if IsLocked(path) {
		t.Fatal("expected unlocked file")
	}

	lock, err := Acquire(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if !IsLocked(path) {
		t.Fatal("expected file to be locked")
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	if IsLocked(path) {
		t.Fatal("expected file to be unlocked")
	}
}
