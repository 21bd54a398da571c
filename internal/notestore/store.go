// Package notestore provides atomic, conflict-checked access to the vault
// file system.
package notestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/models"
)

// Provider is the interface for vault file operations. All paths are
// relative to the vault root.
type Provider interface {
	// List returns metadata for every note file under dir. Derived files
	// (underscore-prefixed) are excluded.
	List(dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (temp file, fsync, rename).
	Write(path string, content []byte) error
	// Load reads and parses the note at path.
	Load(path string) (*models.Note, error)
	// Commit serializes note and writes it atomically, but only if the
	// on-disk checksum still equals expected; otherwise it returns
	// apperr.ErrMergeConflict and leaves the file untouched. On success
	// note.Checksum is refreshed.
	Commit(note *models.Note, expected string) error
}

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to vault directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("notestore: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("notestore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("notestore: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute vault root.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("notestore: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("notestore: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("notestore: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// IsDerived reports whether path names a pipeline-generated artifact
// (underscore-prefixed basename) rather than a user note.
func IsDerived(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "_")
}

// List walks dir (relative to root) and returns metadata for every .md file
// that is not a derived artifact.
func (f *FS) List(dir string) ([]models.NoteMetadata, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []models.NoteMetadata
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") || IsDerived(p) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, models.NoteMetadata{
			Path:     rel,
			Checksum: checksum.Sum(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notestore: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("notestore: read %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("notestore: read %s: %w", path, err)
	}
	return data, nil
}

// Load reads the file at path and parses it into a Note.
func (f *FS) Load(path string) (*models.Note, error) {
	data, err := f.Read(path)
	if err != nil {
		return nil, err
	}
	fm, body := frontmatter.Split(data)
	return &models.Note{
		Path:        path,
		Frontmatter: fm,
		Body:        body,
		Checksum:    checksum.Sum(data),
	}, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("notestore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ansuz-tmp-*")
	if err != nil {
		return fmt.Errorf("notestore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("notestore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("notestore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("notestore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("notestore: rename: %w", err)
	}
	success = true
	return nil
}

// Commit re-reads the on-disk checksum and aborts with ErrMergeConflict when
// it no longer matches expected, so an external edit that raced the pipeline
// is never overwritten. expected is empty for files that did not exist when
// the dispatch started.
func (f *FS) Commit(note *models.Note, expected string) error {
	abs, err := f.safePath(note.Path)
	if err != nil {
		return err
	}

	current := ""
	data, err := os.ReadFile(abs)
	switch {
	case err == nil:
		current = checksum.Sum(data)
	case errors.Is(err, fs.ErrNotExist):
		// File gone or never existed; current stays empty.
	default:
		return fmt.Errorf("notestore: commit read %s: %w", note.Path, err)
	}

	if current != expected {
		return fmt.Errorf("notestore: commit %s: %w", note.Path, apperr.ErrMergeConflict)
	}

	serialized := frontmatter.Serialize(note.Frontmatter, note.Body)
	if err := f.Write(note.Path, serialized); err != nil {
		return err
	}
	note.Checksum = checksum.Sum(serialized)
	return nil
}
