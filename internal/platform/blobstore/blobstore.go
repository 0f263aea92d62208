// Package blobstore publishes transformed study outputs to object storage.
// It defines the Store interface with in-memory, filesystem and S3
// implementations.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidKey   = errors.New("invalid blob key")
)

// Info describes a stored object.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	Hash         string    `json:"hash,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the contract for blob storage backends. Put overwrites.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Info, error)
	Get(ctx context.Context, key string) (io.ReadCloser, Info, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Delete(ctx context.Context, key string) error
}

// CleanKey validates key and returns it in slash separated form. Keys must be
// relative and must not escape the store root.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	key = filepath.ToSlash(key)
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: absolute key %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: traversal in %q", ErrInvalidKey, key)
		}
	}
	return path.Clean(key), nil
}

// ContentType guesses the content type of an output file.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tsv":
		return "text/tab-separated-values"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	}
	return "text/plain"
}

// PublishDir uploads every regular file directly under dir to
// prefix/<file name>, in name order.
func PublishDir(ctx context.Context, s Store, prefix, dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []Info
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := PublishFile(ctx, s, path.Join(prefix, e.Name()), filepath.Join(dir, e.Name()))
		if err != nil {
			return out, err
		}
		out = append(out, info)
	}
	return out, nil
}

// PublishFile uploads the file at src to key.
func PublishFile(ctx context.Context, s Store, key, src string) (Info, error) {
	f, err := os.Open(src)
	if err != nil {
		return Info{}, fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	info, err := s.Put(ctx, key, f, ContentType(src))
	if err != nil {
		return Info{}, fmt.Errorf("publish %s: %w", key, err)
	}
	return info, nil
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

type storedBlob struct {
	info    Info
	content []byte
}

// InMemoryStore is a thread-safe, in-memory Store for testing/dev.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryStore) Put(_ context.Context, key string, r io.Reader, contentType string) (Info, error) {
	key, err := CleanKey(key)
	if err != nil {
		return Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, fmt.Errorf("reading content: %w", err)
	}
	info := Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  contentType,
		Hash:         hashOf(data),
		LastModified: time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{info: info, content: data}
	s.mu.Unlock()
	return info, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (io.ReadCloser, Info, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, Info{}, err
	}
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, Info{}, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.content)), blob.info, nil
}

func (s *InMemoryStore) List(_ context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Info
	for k, b := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, b.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}
