package stores

import (
	"github.com/sloonz/shelvery/lib"

	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/secsy/goftp"
	"github.com/sirupsen/logrus"
)

var (
	ftpLog = logrus.WithFields(logrus.Fields{
		"store": "ftp",
	})
)

// Buckets are directories under the URL path
type ftpBackend struct {
	client *goftp.Client
	prefix string
}

func newFTPBackend(rawURL string) (shelvery.BlobBackend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid FTP URL: %v", err)
	}

	password, _ := u.User.Password()
	config := goftp.Config{
		User:     u.User.Username(),
		Password: password,
	}

	client, err := goftp.DialConfig(config, u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to FTP server: %v", err)
	}

	return &ftpBackend{client: client, prefix: strings.Trim(u.Path, "/")}, nil
}

// Part of shelvery.BlobBackend interface
func (b *ftpBackend) OpenBucket(ctx context.Context, name string, create bool, policy shelvery.BucketPolicy) (shelvery.BlobStore, error) {
	s := &ftpStore{client: b.client, root: path.Join(b.prefix, name)}
	if create {
		s.makeDirs(s.root)
	}
	return s, nil
}

type ftpStore struct {
	client *goftp.Client
	root   string
}

func (s *ftpStore) makeDirs(dir string) {
	currentPath := ""
	for _, d := range strings.Split(strings.Trim(dir, "/"), "/") {
		if d == "" {
			continue
		}
		currentPath = path.Join(currentPath, d)
		_, _ = s.client.Mkdir(currentPath)
	}
}

func isFTPNotFound(err error) bool {
	var ftpErr goftp.Error
	return errors.As(err, &ftpErr) && ftpErr.Code() == 550
}

// Part of shelvery.BlobStore interface
func (s *ftpStore) PutObject(ctx context.Context, key string, data []byte) error {
	finalFilePath := path.Join(s.root, key)
	tmpFilePath := path.Join(path.Dir(finalFilePath), "_tmp"+path.Base(finalFilePath))

	s.makeDirs(path.Dir(finalFilePath))
	ftpLog.Debugf("writing object to temporary file %s", tmpFilePath)
	if err := s.client.Store(tmpFilePath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write temporary file to FTP server: %v", err)
	}

	if err := s.client.Rename(tmpFilePath, finalFilePath); err != nil {
		_ = s.client.Delete(tmpFilePath)
		return fmt.Errorf("failed to rename temporary file on FTP server: %v", err)
	}

	return nil
}

// Part of shelvery.BlobStore interface
func (s *ftpStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := s.client.Retrieve(path.Join(s.root, key), buf); err != nil {
		if isFTPNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, shelvery.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object from FTP server: %v", err)
	}
	return buf.Bytes(), nil
}

// Part of shelvery.BlobStore interface
func (s *ftpStore) RemoveObject(ctx context.Context, key string) error {
	if err := s.client.Delete(path.Join(s.root, key)); err != nil && !isFTPNotFound(err) {
		return fmt.Errorf("failed to remove object from FTP server: %v", err)
	}
	return nil
}

func (s *ftpStore) walk(dir string, prefix string, keys *[]string) error {
	files, err := s.client.ReadDir(path.Join(s.root, dir))
	if err != nil {
		if isFTPNotFound(err) {
			return nil
		}
		return err
	}

	for _, file := range files {
		key := path.Join(dir, file.Name())
		if file.IsDir() {
			// Only descend into directories that can contain matching keys
			if strings.HasPrefix(key+"/", prefix) || strings.HasPrefix(prefix, key+"/") {
				if err := s.walk(key, prefix, keys); err != nil {
					return err
				}
			}
			continue
		}
		if !strings.HasPrefix(file.Name(), "_tmp") && strings.HasPrefix(key, prefix) {
			*keys = append(*keys, key)
		}
	}
	return nil
}

// Part of shelvery.BlobStore interface
func (s *ftpStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	if err := s.walk("", prefix, &keys); err != nil {
		return nil, fmt.Errorf("failed to list objects on FTP server: %v", err)
	}
	sort.Strings(keys)
	return keys, nil
}
