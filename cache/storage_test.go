package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachekey "github.com/always-cache/swcache/pkg/cache-key"
	serializer "github.com/always-cache/swcache/pkg/response-serializer"
)

func snapshot(status int, body string) *serializer.Snapshot {
	return &serializer.Snapshot{
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
	}
}

func TestPutThenMatch(t *testing.T) {
	ctx := context.Background()
	c, err := NewStorage(NewMemCache()).Open(ctx, "static")
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", "/index.html", nil)
	require.NoError(t, c.Put(ctx, req, snapshot(200, "hello")))

	snap, ok, err := c.Match(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "text/plain", snap.Header.Get("Content-Type"))
	assert.False(t, snap.StoredAt.IsZero())
	body, _ := io.ReadAll(snap.Response().Body)
	assert.Equal(t, "hello", string(body))
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	c, _ := NewStorage(NewMemCache()).Open(ctx, "static")
	req, _ := http.NewRequest("GET", "/app.js", nil)
	require.NoError(t, c.Put(ctx, req, snapshot(200, "v1")))
	require.NoError(t, c.Put(ctx, req, snapshot(200, "v2")))

	snap, ok, err := c.Match(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(snap.Body))
}

func TestNamedCachesAreSeparate(t *testing.T) {
	ctx := context.Background()
	storage := NewStorage(NewMemCache())
	static, _ := storage.Open(ctx, "static")
	pages, _ := storage.Open(ctx, "pages")
	req, _ := http.NewRequest("GET", "/", nil)
	require.NoError(t, static.Put(ctx, req, snapshot(200, "x")))

	_, ok, err := pages.Match(ctx, req)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"pages", "static"}, storage.Names())
}

func TestOnlyGetIsStored(t *testing.T) {
	ctx := context.Background()
	c, _ := NewStorage(NewMemCache()).Open(ctx, "static")
	get, _ := http.NewRequest("GET", "/", nil)
	head, _ := http.NewRequest("HEAD", "/", nil)
	require.NoError(t, c.Put(ctx, get, snapshot(200, "x")))

	err := c.Put(ctx, head, snapshot(200, ""))
	assert.True(t, errors.Is(err, cachekey.ErrorMethodNotSupported))

	_, ok, err := c.Match(ctx, head)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPartialAndVaryStarNotStored(t *testing.T) {
	ctx := context.Background()
	c, _ := NewStorage(NewMemCache()).Open(ctx, "static")
	req, _ := http.NewRequest("GET", "/video", nil)

	assert.ErrorIs(t, c.Put(ctx, req, snapshot(http.StatusPartialContent, "x")), ErrNotStorable)

	varyAll := snapshot(200, "x")
	varyAll.Header.Set("Vary", "Accept, *")
	assert.ErrorIs(t, c.Put(ctx, req, varyAll), ErrNotStorable)

	_, ok, _ := c.Match(ctx, req)
	assert.False(t, ok)
}

func TestPutDoesNotModifySnapshot(t *testing.T) {
	ctx := context.Background()
	c, _ := NewStorage(NewMemCache()).Open(ctx, "static")
	req, _ := http.NewRequest("GET", "/", nil)
	snap := snapshot(200, "x")
	require.NoError(t, c.Put(ctx, req, snap))
	assert.True(t, snap.StoredAt.IsZero())
}

func TestKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	storage := NewStorage(NewMemCache())
	c, _ := storage.Open(ctx, "static")
	for _, path := range []string{"/b.css", "/a.js"} {
		req, _ := http.NewRequest("GET", path, nil)
		require.NoError(t, c.Put(ctx, req, snapshot(200, path)))
	}

	reqs, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "/a.js", reqs[0].URL.String())

	deleted, err := c.Delete(ctx, reqs[0])
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = c.Delete(ctx, reqs[0])
	require.NoError(t, err)
	assert.False(t, deleted)

	n, err := storage.Delete(ctx, "static")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, storage.Names())
}

func TestInvalidCacheName(t *testing.T) {
	storage := NewStorage(NewMemCache())
	for _, name := range []string{"", "a:b"} {
		_, err := storage.Open(context.Background(), name)
		assert.Error(t, err, name)
	}
}
