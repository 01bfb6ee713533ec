// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio provides atomic file writing with backups.
package atomicio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const backupTimeFormat = "20060102150405.000000000"

// DefaultBackups is the number of backups kept by [WriteFile].
const DefaultBackups = 10

// Options control how a file is replaced.
type Options struct {
	// Backups is the number of previous versions to keep next to the file.
	// Zero disables backups.
	Backups int
	// Now returns the current time used to name backups. If nil, time.Now is
	// used.
	Now func() time.Time
}

// WriteFile writes data to a file atomically, keeping [DefaultBackups]
// previous versions.
func WriteFile(name string, data []byte, perm fs.FileMode) error {
	return Options{Backups: DefaultBackups}.WriteFile(name, data, perm)
}

// WriteFile writes data to a temporary file in the same directory as name and
// renames it over name. Readers see either the old or the new contents.
func (o Options) WriteFile(name string, data []byte, perm fs.FileMode) (err error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Same directory means same filesystem, which os.Rename requires.
	f, err := os.CreateTemp(dir, "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if o.Backups > 0 {
		if err := o.backup(name); err != nil {
			return fmt.Errorf("backing up %s: %w", name, err)
		}
	}

	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}

	if o.Backups > 0 {
		return pruneBackups(name, o.Backups)
	}
	return nil
}

func (o Options) backup(name string) error {
	if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	return os.Rename(name, name+"."+now().UTC().Format(backupTimeFormat)+".bak")
}

// Backups returns the backups of name, oldest first.
func Backups(name string) ([]string, error) {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return nil, err
	}
	slices.Sort(backups)
	return backups, nil
}

func pruneBackups(name string, keep int) error {
	backups, err := Backups(name)
	if err != nil {
		return err
	}
	if len(backups) <= keep {
		return nil
	}
	for _, b := range backups[:len(backups)-keep] {
		if err := os.Remove(b); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
