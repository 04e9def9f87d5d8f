package server

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/google/uuid"
)

// BlobStore keeps uploaded files below a directory, one sub directory per collection.
// Files are addressed by the url "<collection>/<file>".
type BlobStore struct {
	dir string
}

// NewBlobStore creates the directory if needed
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Save stores content under a fresh name that keeps the extension of name.
// It returns the url of the stored file.
func (b *BlobStore) Save(collection, name string, content []byte) (url string, err error) {
	if !validSegment(collection) {
		return "", store.Errorf(store.RetCInvalidOperation, "invalid collection name %q", collection)
	}
	file := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(name)))

	dir := filepath.Join(b.dir, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, file), content, 0o644); err != nil {
		return "", err
	}
	return collection + "/" + file, nil
}

// Read returns the content of the file at url
func (b *BlobStore) Read(url string) ([]byte, error) {
	p, err := b.resolve(url)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, store.Errorf(store.RetCNotFound, "file %s not found", url)
	}
	return data, err
}

// Remove deletes the file at url, a missing file is not an error
func (b *BlobStore) Remove(url string) error {
	p, err := b.resolve(url)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolve maps a url to a path below the blob directory
func (b *BlobStore) resolve(url string) (string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+url), "/")
	collection, file, ok := strings.Cut(clean, "/")
	if !ok || !validSegment(collection) || !validSegment(file) {
		return "", store.Errorf(store.RetCInvalidOperation, "invalid file url %q", url)
	}
	return filepath.Join(b.dir, collection, file), nil
}

// validSegment reports whether s can be used as a single path element
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
