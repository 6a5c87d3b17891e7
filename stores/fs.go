package stores

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	ErrFSPath = errors.New("fs store: missing path")
	fsLog     = logrus.WithFields(logrus.Fields{
		"store": "fs",
	})
)

// Buckets are directories under basePath
type fsBackend struct {
	basePath string
}

func newFSBackend(basePath string) (shelvery.BlobBackend, error) {
	if basePath == "" {
		return nil, ErrFSPath
	}

	err := os.MkdirAll(basePath, 0777)
	if err != nil {
		return nil, err
	}

	return &fsBackend{basePath: basePath}, nil
}

// Part of shelvery.BlobBackend interface
func (b *fsBackend) OpenBucket(ctx context.Context, name string, create bool, policy shelvery.BucketPolicy) (shelvery.BlobStore, error) {
	dir := filepath.Join(b.basePath, name)
	if create {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, err
		}
	}
	return &fsStore{basePath: dir}, nil
}

type fsStore struct {
	basePath string
}

func (s *fsStore) filename(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(path.Clean("/"+key)))
}

// Part of shelvery.BlobStore interface
func (s *fsStore) PutObject(ctx context.Context, key string, data []byte) error {
	finalFilename := s.filename(key)
	tmpFilename := filepath.Join(filepath.Dir(finalFilename), "_tmp-"+filepath.Base(finalFilename))

	if err := os.MkdirAll(filepath.Dir(finalFilename), 0777); err != nil {
		return err
	}
	defer os.Remove(tmpFilename)

	fsLog.Debugf("writing object to %s", tmpFilename)
	if err := os.WriteFile(tmpFilename, data, 0666); err != nil {
		return err
	}

	return os.Rename(tmpFilename, finalFilename)
}

// Part of shelvery.BlobStore interface
func (s *fsStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.filename(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, shelvery.ErrNotFound
	}
	return data, err
}

// Part of shelvery.BlobStore interface
func (s *fsStore) RemoveObject(ctx context.Context, key string) error {
	err := os.Remove(s.filename(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Part of shelvery.BlobStore interface
func (s *fsStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), "_tmp-") {
			return nil
		}

		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}
