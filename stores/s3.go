package stores

import (
	"github.com/sloonz/shelvery/awsutil"
	"github.com/sloonz/shelvery/lib"

	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

var (
	s3Log = logrus.WithFields(logrus.Fields{
		"store": "s3",
	})
)

// Subset of the S3 API used by the s3 store
type S3API interface {
	s3.ListObjectsV2APIClient
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketPolicy(ctx context.Context, params *s3.PutBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Backend struct {
	client S3API
	region string
}

func NewS3(client S3API, region string) shelvery.BlobBackend {
	return &s3Backend{client: client, region: region}
}

func (b *s3Backend) createBucket(ctx context.Context, name string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if b.region != "" && b.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.region),
		}
	}

	_, err := b.client.CreateBucket(ctx, input)
	if err != nil {
		switch awsutil.ErrorCode(err) {
		case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", name, err)
	}

	s3Log.WithFields(logrus.Fields{"bucket": name}).Info("created bucket")
	return nil
}

// Part of shelvery.BlobBackend interface
func (b *s3Backend) OpenBucket(ctx context.Context, name string, create bool, policy shelvery.BucketPolicy) (shelvery.BlobStore, error) {
	if create {
		if err := b.createBucket(ctx, name); err != nil {
			return nil, err
		}

		if policy.OwnerAccount != "" {
			doc, err := awsutil.BucketPolicy(name, policy)
			if err != nil {
				return nil, err
			}
			_, err = b.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
				Bucket: aws.String(name),
				Policy: aws.String(doc),
			})
			if err != nil {
				return nil, fmt.Errorf("set bucket policy on %s: %w", name, err)
			}
		}
	}

	return &s3Store{client: b.client, bucket: name}, nil
}

type s3Store struct {
	client S3API
	bucket string
}

// Part of shelvery.BlobStore interface
func (s *s3Store) PutObject(ctx context.Context, key string, data []byte) error {
	s3Log.WithFields(logrus.Fields{"bucket": s.bucket, "key": key}).Debug("writing object")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		ACL:    s3types.ObjectCannedACLBucketOwnerFullControl,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Part of shelvery.BlobStore interface
func (s *s3Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) || awsutil.ErrorCode(err) == "NotFound" {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, shelvery.ErrNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Part of shelvery.BlobStore interface
func (s *s3Store) RemoveObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Part of shelvery.BlobStore interface
func (s *s3Store) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
