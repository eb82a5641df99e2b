package cache

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testProvider runs the behaviour every provider must share.
func testProvider(t *testing.T, p CacheProvider) {
	ctx := context.Background()

	_, ok, err := p.Get(ctx, "static:GET:/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Put(ctx, "static:GET:/a", []byte("a")))
	require.NoError(t, p.Put(ctx, "static:GET:/b", []byte("b")))
	require.NoError(t, p.Put(ctx, "pages:GET:/a", []byte("other")))
	require.NoError(t, p.Put(ctx, "static:GET:/a", []byte("a2")))

	b, ok, err := p.Get(ctx, "static:GET:/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", string(b))

	has, err := p.Has(ctx, "static:GET:/b")
	require.NoError(t, err)
	assert.True(t, has)

	keys := make([]string, 0)
	require.NoError(t, p.AllKeys(ctx, "static:", func(key string) {
		keys = append(keys, key)
	}))
	sort.Strings(keys)
	assert.Equal(t, []string{"static:GET:/a", "static:GET:/b"}, keys)

	require.NoError(t, p.Purge(ctx, "static:GET:/b"))
	has, err = p.Has(ctx, "static:GET:/b")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemCache(t *testing.T) {
	testProvider(t, NewMemCache())
}

func TestSQLiteCache(t *testing.T) {
	p, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer p.Close()
	testProvider(t, p)
}

func TestSQLiteCacheLikeCharactersInPrefix(t *testing.T) {
	p, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()
	require.NoError(t, p.Put(ctx, "a_b:GET:/", []byte("1")))
	require.NoError(t, p.Put(ctx, "axb:GET:/", []byte("2")))

	keys := make([]string, 0)
	require.NoError(t, p.AllKeys(ctx, "a_b:", func(key string) { keys = append(keys, key) }))
	assert.Equal(t, []string{"a_b:GET:/"}, keys)
}

func TestS3Cache(t *testing.T) {
	testProvider(t, NewS3Cache(newFakeS3(), "bucket", "swcache/"))
}

// fakeS3 keeps objects in memory and answers the calls S3Cache makes.
type fakeS3 struct {
	mutex   sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}
