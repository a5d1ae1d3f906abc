// Package filestore is a minimal in-memory stand-in for the out-of-core
// vault file storage collaborator spec.md §1 names as an external
// responsibility. It exists only so internal/server can be exercised
// end-to-end (spec.md §8 scenario S6); real persistence, quotas, and
// directory semantics belong to the file CRUD endpoints explicitly left
// out of scope.
//
// Uploaded plaintext is wrapped in its own ExEF container before being
// kept "at rest" (spec.md §1: "Files are stored at rest as ExEF
// streams"), sealed under the store's own at-rest key rather than any
// session master key — that key is ephemeral and scoped to the transport
// layer, not long-term storage.
package filestore

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/photonicgluon/excalibur-server/internal/exef"
)

var (
	// ErrNotFound is returned when a path has no entry.
	ErrNotFound = errors.New("filestore: not found")

	// ErrExists is returned by Upload/Mkdir when an entry already exists
	// at path and the caller did not request force-overwrite.
	ErrExists = errors.New("filestore: already exists")

	// ErrIsDirectory is returned when a file operation targets a
	// directory entry.
	ErrIsDirectory = errors.New("filestore: is a directory")

	// ErrNotDirectory is returned when a directory operation targets a
	// file entry.
	ErrNotDirectory = errors.New("filestore: not a directory")
)

// Entry describes one item returned by List.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

type fileEntry struct {
	isDir     bool
	container []byte // ExEF container, only set when !isDir
	mimeType  string
	modTime   time.Time
}

// Store is a concurrency-safe, path-keyed in-memory vault.
type Store struct {
	mu        sync.RWMutex
	atRestKey []byte
	entries   map[string]*fileEntry
}

// New creates a Store whose contents are encrypted at rest under
// atRestKey (16, 24, or 32 bytes, per ExEF's supported AES key sizes).
func New(atRestKey []byte) *Store {
	s := &Store{
		atRestKey: atRestKey,
		entries:   make(map[string]*fileEntry),
	}
	s.entries["/"] = &fileEntry{isDir: true, modTime: time.Now()}
	return s
}

func clean(p string) string {
	p = "/" + strings.Trim(p, "/")
	return path.Clean(p)
}

// Upload stores plaintext at path under the given MIME type. If an entry
// already exists and force is false, ErrExists is returned.
func (s *Store) Upload(filePath, mimeType string, plaintext []byte, force bool) error {
	filePath = clean(filePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[filePath]; ok {
		if e.isDir {
			return ErrIsDirectory
		}
		if !force {
			return ErrExists
		}
	}

	container, err := exef.Encrypt(s.atRestKey, nil, plaintext)
	if err != nil {
		return fmt.Errorf("filestore: encrypt at rest: %w", err)
	}

	s.entries[filePath] = &fileEntry{
		container: container,
		mimeType:  mimeType,
		modTime:   time.Now(),
	}
	return s.ensureParentsLocked(filePath)
}

// Mkdir creates an empty directory entry at path.
func (s *Store) Mkdir(dirPath string) error {
	dirPath = clean(dirPath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[dirPath]; ok {
		if !e.isDir {
			return ErrExists
		}
		return nil
	}
	s.entries[dirPath] = &fileEntry{isDir: true, modTime: time.Now()}
	return s.ensureParentsLocked(dirPath)
}

// ensureParentsLocked creates any missing ancestor directories of p.
// Caller must hold s.mu.
func (s *Store) ensureParentsLocked(p string) error {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if _, ok := s.entries[dir]; !ok {
			s.entries[dir] = &fileEntry{isDir: true, modTime: time.Now()}
		}
	}
	return nil
}

// Download returns the decrypted plaintext and MIME type stored at path.
func (s *Store) Download(filePath string) (plaintext []byte, mimeType string, err error) {
	filePath = clean(filePath)

	s.mu.RLock()
	e, ok := s.entries[filePath]
	s.mu.RUnlock()

	if !ok {
		return nil, "", ErrNotFound
	}
	if e.isDir {
		return nil, "", ErrIsDirectory
	}

	plaintext, err = exef.Decrypt(s.atRestKey, e.container)
	if err != nil {
		return nil, "", fmt.Errorf("filestore: decrypt at rest: %w", err)
	}
	return plaintext, e.mimeType, nil
}

// List returns the direct children of dirPath.
func (s *Store) List(dirPath string) ([]Entry, error) {
	dirPath = clean(dirPath)

	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.entries[dirPath]
	if !ok {
		return nil, ErrNotFound
	}
	if !root.isDir {
		return nil, ErrNotDirectory
	}

	var out []Entry
	for p, e := range s.entries {
		if p == dirPath {
			continue
		}
		if path.Dir(p) != dirPath {
			continue
		}
		size := int64(0)
		if !e.isDir {
			size = int64(len(e.container))
		}
		out = append(out, Entry{
			Name:    path.Base(p),
			IsDir:   e.isDir,
			Size:    size,
			ModTime: e.modTime,
		})
	}
	return out, nil
}

// Delete removes the entry at path (file or empty directory).
func (s *Store) Delete(filePath string) error {
	filePath = clean(filePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[filePath]; !ok {
		return ErrNotFound
	}
	delete(s.entries, filePath)
	return nil
}

// Rename moves the entry at path to newName within the same parent
// directory.
func (s *Store) Rename(filePath, newName string) error {
	filePath = clean(filePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[filePath]
	if !ok {
		return ErrNotFound
	}
	newPath := clean(path.Join(path.Dir(filePath), newName))
	if _, exists := s.entries[newPath]; exists {
		return ErrExists
	}
	delete(s.entries, filePath)
	s.entries[newPath] = e
	return nil
}

// Check reports whether path exists and, if so, whether it is a
// directory.
func (s *Store) Check(filePath string) (exists bool, isDir bool) {
	filePath = clean(filePath)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[filePath]
	if !ok {
		return false, false
	}
	return true, e.isDir
}
