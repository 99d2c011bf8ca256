// Package filestore implements store.Store as one file per record under
// a shared directory, which is how the sandbox and the host exchange
// records through a bind mount.
//
// Layout:
//
//	<root>/requests/<id>.json
//	<root>/responses/<id>.json
//	<root>/dispatched/<id>.json
//
// Every write goes to a dot-prefixed temporary file in the destination
// directory, is fsynced, and is then moved into place: with link(2) for
// Create (which fails if the target exists) or rename(2) for Put. The
// parent directory is fsynced afterwards. Listing skips dot files, so a
// reader never sees a partial record.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tinyland-inc/hostbridge/pkg/store"
)

type Store struct {
	root      string
	extension string
}

type Option func(*Store)

// WithExtension sets the record file suffix. The default is ".json".
func WithExtension(ext string) Option {
	return func(s *Store) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.extension = ext
	}
}

// New opens (creating if needed) a file store rooted at root.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("filestore: root directory is required")
	}
	s := &Store{root: root, extension: ".json"}
	for _, opt := range opts {
		opt(s)
	}

	// World-writable so container users with a different uid can drop
	// records into a bind-mounted directory.
	for _, kind := range store.Kinds {
		dir := filepath.Join(root, string(kind))
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return nil, fmt.Errorf("filestore: creating %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

func (s *Store) path(kind store.Kind, key string) string {
	return filepath.Join(s.root, string(kind), key+s.extension)
}

func (s *Store) Create(ctx context.Context, kind store.Kind, key string, record []byte) error {
	if err := s.check(ctx, kind, key); err != nil {
		return err
	}
	final := s.path(kind, key)

	temporary, err := s.writeTemporary(filepath.Dir(final), key, record)
	if err != nil {
		return err
	}
	defer os.Remove(temporary)

	if err := os.Link(temporary, final); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("filestore: %s/%s: %w", kind, key, store.ErrExists)
		}
		return fmt.Errorf("filestore: linking %s into place: %w", final, err)
	}
	syncDirectory(filepath.Dir(final))
	return nil
}

func (s *Store) Put(ctx context.Context, kind store.Kind, key string, record []byte) error {
	if err := s.check(ctx, kind, key); err != nil {
		return err
	}
	final := s.path(kind, key)

	temporary, err := s.writeTemporary(filepath.Dir(final), key, record)
	if err != nil {
		return err
	}
	if err := os.Rename(temporary, final); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("filestore: renaming %s into place: %w", final, err)
	}
	syncDirectory(filepath.Dir(final))
	return nil
}

func (s *Store) Get(ctx context.Context, kind store.Kind, key string) ([]byte, error) {
	if err := s.check(ctx, kind, key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(kind, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("filestore: %s/%s: %w", kind, key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("filestore: reading %s/%s: %w", kind, key, err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, kind store.Kind, key string) error {
	if err := s.check(ctx, kind, key); err != nil {
		return err
	}
	if err := os.Remove(s.path(kind, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore: removing %s/%s: %w", kind, key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, kind store.Kind) ([]store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("filestore: invalid kind %q", kind)
	}

	dir := filepath.Join(s.root, string(kind))
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: listing %s: %w", dir, err)
	}

	entries := make([]store.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, s.extension) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("filestore: stat %s: %w", name, err)
		}
		entries = append(entries, store.Entry{
			Key:     strings.TrimSuffix(name, s.extension),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.Before(entries[j].ModTime)
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) check(ctx context.Context, kind store.Kind, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.CheckKey(kind, key)
}

// writeTemporary writes record to a hidden file in dir, syncs and
// closes it, and returns its path.
func (s *Store) writeTemporary(dir, key string, record []byte) (string, error) {
	file, err := os.CreateTemp(dir, "."+key+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("filestore: creating temporary file: %w", err)
	}
	temporary := file.Name()

	if _, err := file.Write(record); err != nil {
		file.Close()
		os.Remove(temporary)
		return "", fmt.Errorf("filestore: writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporary)
		return "", fmt.Errorf("filestore: syncing temporary file: %w", err)
	}
	if err := file.Chmod(0o644); err != nil {
		file.Close()
		os.Remove(temporary)
		return "", fmt.Errorf("filestore: chmod temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporary)
		return "", fmt.Errorf("filestore: closing temporary file: %w", err)
	}
	return temporary, nil
}

// syncDirectory makes a preceding rename or link durable. Failures are
// ignored: the record itself is already synced.
func syncDirectory(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

var _ store.Store = (*Store)(nil)
