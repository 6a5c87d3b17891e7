package stores

import (
	"github.com/sloonz/shelvery/awsutil"
	"github.com/sloonz/shelvery/lib"

	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

var (
	osLog = logrus.WithFields(logrus.Fields{
		"store": "object-storage",
	})
)

// S3-compatible object storage, e.g. minio or ceph, given as
// http[s]://access:secret@endpoint[?secure=0&region=...]
type objectStorageBackend struct {
	client *minio.Client
	region string
}

func newObjectStorageBackend(rawURL string) (shelvery.BlobBackend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid object storage URL: %v", err)
	}

	secure := !(u.Scheme == "http")
	accessKeyID := u.User.Username()
	secretAccessKey, _ := u.User.Password()

	if s := u.Query().Get("secure"); s != "" {
		secure, err = strconv.ParseBool(s)
		if err != nil {
			osLog.Warnf("cannot parse secure option: %v", err)
			secure = true
		}
	}

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: secure,
		Region: u.Query().Get("region"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage instance: %v", err)
	}

	return &objectStorageBackend{client: client, region: u.Query().Get("region")}, nil
}

// Part of shelvery.BlobBackend interface
func (b *objectStorageBackend) OpenBucket(ctx context.Context, name string, create bool, policy shelvery.BucketPolicy) (shelvery.BlobStore, error) {
	if create {
		exists, err := b.client.BucketExists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket %s: %v", name, err)
		}

		if !exists {
			err = b.client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: b.region})
			if err != nil {
				code := minio.ToErrorResponse(err).Code
				if code != "BucketAlreadyOwnedByYou" && code != "BucketAlreadyExists" {
					return nil, fmt.Errorf("failed to create bucket %s: %v", name, err)
				}
			}
		}

		if policy.OwnerAccount != "" {
			doc, err := awsutil.BucketPolicy(name, policy)
			if err != nil {
				return nil, err
			}
			if err = b.client.SetBucketPolicy(ctx, name, doc); err != nil {
				osLog.WithFields(logrus.Fields{"bucket": name}).Warnf("cannot set bucket policy: %v", err)
			}
		}
	}

	return &objectStorageStore{client: b.client, bucket: name}, nil
}

type objectStorageStore struct {
	client *minio.Client
	bucket string
}

// Part of shelvery.BlobStore interface
func (s *objectStorageStore) PutObject(ctx context.Context, key string, data []byte) error {
	osLog.Debugf("writing object to %s/%s", s.bucket, key)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to write object to object storage: %v", err)
	}
	return nil
}

// Part of shelvery.BlobStore interface
func (s *objectStorageStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read object from object storage: %v", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s/%s: %w", s.bucket, key, shelvery.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object from object storage: %v", err)
	}
	return data, nil
}

// Part of shelvery.BlobStore interface
func (s *objectStorageStore) RemoveObject(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove object from object storage: %v", err)
	}
	return nil
}

// Part of shelvery.BlobStore interface
func (s *objectStorageStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectsCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objectsCh {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects on object storage: %v", obj.Err)
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}
