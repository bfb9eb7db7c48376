package jobstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FS stores one file per job below a root directory.
type FS struct {
	root string
}

// NewFS roots the store at dir, or local/jobs when dir is empty.
func NewFS(dir string) FS {
	root := strings.TrimSpace(dir)
	if root == "" {
		root = filepath.Join("local", "jobs")
	}
	return FS{root: root}
}

func (s FS) Root() string { return s.root }

func (s FS) Put(source string, job []byte) (string, error) {
	key := NewKey(source)
	p, err := s.resolvePath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(p, job, 0o644); err != nil {
		return "", err
	}
	return key, nil
}

func (s FS) Get(key string) ([]byte, error) {
	p, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}
	out, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return out, err
}

func (s FS) Delete(key string) error {
	p, err := s.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s FS) List(prefix string) ([]string, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	keys := make([]string, 0)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s FS) resolvePath(key string) (string, error) {
	rel, err := checkKey(key)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrInvalidKey)
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if !isWithin(p, root) {
		return "", fmt.Errorf("%w: path escapes root", ErrInvalidKey)
	}
	return p, nil
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return false
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}
