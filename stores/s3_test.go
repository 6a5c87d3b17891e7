package stores

import (
	"github.com/sloonz/shelvery/lib"

	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awsConfigForTests() aws.Config {
	return aws.Config{Region: "us-east-1"}
}

// In-memory fake of the S3 API, paginating listings by two keys
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]map[string][]byte
	created  []*s3.CreateBucketInput
	policies map[string]string
	existing bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]map[string][]byte), policies: make(map[string]string)}
}

func (f *fakeS3) bucket(name *string) map[string][]byte {
	b, ok := f.objects[aws.ToString(name)]
	if !ok {
		b = make(map[string][]byte)
		f.objects[aws.ToString(name)] = b
	}
	return b
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	if f.existing {
		return nil, &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"}
	}
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutBucketPolicy(ctx context.Context, in *s3.PutBucketPolicyInput, _ ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[aws.ToString(in.Bucket)] = aws.ToString(in.Policy)
	return &s3.PutBucketPolicyOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucket(in.Bucket)[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.bucket(in.Bucket)[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bucket(in.Bucket), aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.bucket(in.Bucket) {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > 2 {
		keys = keys[:2]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Backend(t *testing.T) {
	client := newFakeS3()
	testBackend(t, NewS3(client, "us-east-1"))

	require.Len(t, client.created, 1)
	assert.Nil(t, client.created[0].CreateBucketConfiguration)
	assert.Contains(t, client.policies["shelvery.data.111111111111-us-east-1"], "arn:aws:iam::111111111111:root")
}

func TestS3BackendExistingBucket(t *testing.T) {
	client := newFakeS3()
	client.existing = true

	_, err := NewS3(client, "eu-west-1").OpenBucket(context.Background(), "bucket", true, shelvery.BucketPolicy{})
	require.NoError(t, err)
	require.Len(t, client.created, 1)
	assert.Equal(t, s3types.BucketLocationConstraint("eu-west-1"), client.created[0].CreateBucketConfiguration.LocationConstraint)
	assert.Empty(t, client.policies)
}

func TestS3BackendPagination(t *testing.T) {
	client := newFakeS3()
	store, err := NewS3(client, "us-east-1").OpenBucket(context.Background(), "bucket", false, shelvery.BucketPolicy{})
	require.NoError(t, err)

	for _, k := range []string{"p/1", "p/2", "p/3", "p/4", "p/5", "q/1"} {
		require.NoError(t, store.PutObject(context.Background(), k, []byte(k)))
	}

	keys, err := store.ListObjects(context.Background(), "p/")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/1", "p/2", "p/3", "p/4", "p/5"}, keys)
	assert.Empty(t, client.created)
}
