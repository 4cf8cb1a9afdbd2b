package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snipvec/snipvec/blobstore"
)

// fakeS3 implements Client against an in-memory object map. Uploads small
// enough for a single part go through PutObject, which is all these tests
// exercise.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = data

	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(params.Key)]
	f.mu.Unlock()

	if !ok {
		return nil, &types.NoSuchKey{}
	}

	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(params.Key))

	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var contents []types.Object
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			contents = append(contents, types.Object{Key: aws.String(key)})
		}
	}

	return &awss3.ListObjectsV2Output{Contents: contents}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, params *awss3.UploadPartInput, optFns ...func(*awss3.Options)) (*awss3.UploadPartOutput, error) {
	return nil, errors.New("multipart upload not exercised")
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, params *awss3.CreateMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not exercised")
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, params *awss3.CompleteMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not exercised")
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, params *awss3.AbortMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not exercised")
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := New(fake, "test-bucket", "mirror")

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "gen-1/vectors.snap")
		require.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("PutGet", func(t *testing.T) {
		content := "vector bytes"
		require.NoError(t, store.Put(ctx, "gen-1/vectors.snap", strings.NewReader(content), int64(len(content))))

		// Keys carry the root prefix.
		_, ok := fake.objects["mirror/gen-1/vectors.snap"]
		require.True(t, ok)

		rc, err := store.Get(ctx, "gen-1/vectors.snap")
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "gen-1/snippets.meta", strings.NewReader("m"), 1))
		require.NoError(t, store.Put(ctx, "gen-2/vectors.snap", strings.NewReader("v"), 1))

		names, err := store.List(ctx, "gen-1/")
		require.NoError(t, err)
		assert.Equal(t, []string{"gen-1/snippets.meta", "gen-1/vectors.snap"}, names)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "gen-2/vectors.snap"))

		_, err := store.Get(ctx, "gen-2/vectors.snap")
		require.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}
