package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore keeps objects as files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at root, creating it if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("blob root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) pathFor(key string) (string, string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return k, filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Put writes to a temporary file and renames it into place.
func (s *FSStore) Put(_ context.Context, key string, r io.Reader, contentType string) (info Info, err error) {
	k, p, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Info{}, fmt.Errorf("create dirs: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return Info{}, fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		tmp.Close()
		return Info{}, fmt.Errorf("reading content: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return Info{}, fmt.Errorf("write %s: %w", k, err)
	}
	if err = tmp.Close(); err != nil {
		return Info{}, fmt.Errorf("close %s: %w", k, err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return Info{}, fmt.Errorf("rename %s: %w", k, err)
	}

	st, err := os.Stat(p)
	if err != nil {
		return Info{}, err
	}
	return Info{Key: k, Size: st.Size(), ContentType: contentType, Hash: hashOf(data), LastModified: st.ModTime().UTC()}, nil
}

func (s *FSStore) Get(_ context.Context, key string) (io.ReadCloser, Info, error) {
	k, p, err := s.pathFor(key)
	if err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Info{}, ErrBlobNotFound
	}
	if err != nil {
		return nil, Info{}, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Info{}, err
	}
	return f, Info{Key: k, Size: st.Size(), ContentType: ContentType(k), LastModified: st.ModTime().UTC()}, nil
}

func (s *FSStore) List(_ context.Context, prefix string) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Info{Key: key, Size: st.Size(), ContentType: ContentType(key), LastModified: st.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FSStore) Delete(_ context.Context, key string) error {
	_, p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		return err
	}
	return nil
}
