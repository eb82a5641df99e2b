package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	cachekey "github.com/always-cache/swcache/pkg/cache-key"
	serializer "github.com/always-cache/swcache/pkg/response-serializer"
	"github.com/always-cache/swcache/rfc9111"
)

// ErrNotStorable is returned by Put for responses a cache refuses to hold:
// partial content and responses varying on everything.
var ErrNotStorable = errors.New("Response not storable")

// Storage holds the named caches of one provider.
type Storage struct {
	provider CacheProvider
	mutex    *sync.Mutex
	names    map[string]struct{}
}

func NewStorage(provider CacheProvider) *Storage {
	return &Storage{
		provider: provider,
		mutex:    &sync.Mutex{},
		names:    make(map[string]struct{}),
	}
}

// Open returns the cache with the given name.
// Caches are created on first use; opening is cheap.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if name == "" || strings.Contains(name, ":") {
		return nil, fmt.Errorf("Invalid cache name %q", name)
	}
	s.mutex.Lock()
	s.names[name] = struct{}{}
	s.mutex.Unlock()
	return &Cache{
		name:     name,
		keyer:    cachekey.NewCacheKeyer(name),
		provider: s.provider,
	}, nil
}

// Names returns the names of the caches opened so far, sorted.
func (s *Storage) Names() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	names := make([]string, 0, len(s.names))
	for name := range s.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes all entries of the named cache.
// It returns the number of removed entries.
func (s *Storage) Delete(ctx context.Context, name string) (int, error) {
	c, err := s.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0)
	if err := s.provider.AllKeys(ctx, c.keyer.CachePrefix, func(key string) {
		keys = append(keys, key)
	}); err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := s.provider.Purge(ctx, key); err != nil {
			return i, err
		}
	}
	s.mutex.Lock()
	delete(s.names, name)
	s.mutex.Unlock()
	return len(keys), nil
}

// Cache is a named mapping from requests to stored responses.
// Entries never expire and are never evicted.
type Cache struct {
	name     string
	keyer    cachekey.CacheKeyer
	provider CacheProvider
}

func (c *Cache) Name() string {
	return c.name
}

// Match returns the stored response for the request, if any.
// Only GET requests can match.
func (c *Cache) Match(ctx context.Context, r *http.Request) (*serializer.Snapshot, bool, error) {
	key, err := c.keyer.GetKey(r)
	if errors.Is(err, cachekey.ErrorMethodNotSupported) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	b, ok, err := c.provider.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	snap, err := serializer.FromBytes(b, r)
	if err != nil {
		return nil, false, fmt.Errorf("could not read stored response for %s: %w", key, err)
	}
	return snap, true, nil
}

// Put stores the response for the request, replacing any previous entry.
// The snapshot itself is not modified.
func (c *Cache) Put(ctx context.Context, r *http.Request, snap *serializer.Snapshot) error {
	key, err := c.keyer.GetKey(r)
	if err != nil {
		return err
	}
	if snap.StatusCode == http.StatusPartialContent {
		return ErrNotStorable
	}
	for _, name := range rfc9111.ListHeader(snap.Header, "Vary") {
		if name == "*" {
			return ErrNotStorable
		}
	}
	stored := snap.Clone()
	stored.StoredAt = time.Now()
	b, err := stored.Bytes()
	if err != nil {
		return err
	}
	return c.provider.Put(ctx, key, b)
}

// Delete removes the entry for the request.
// It returns whether there was an entry to remove.
func (c *Cache) Delete(ctx context.Context, r *http.Request) (bool, error) {
	key, err := c.keyer.GetKey(r)
	if errors.Is(err, cachekey.ErrorMethodNotSupported) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if has, err := c.provider.Has(ctx, key); err != nil || !has {
		return false, err
	}
	return true, c.provider.Purge(ctx, key)
}

// Keys returns requests for all entries of the cache.
func (c *Cache) Keys(ctx context.Context) ([]*http.Request, error) {
	reqs := make([]*http.Request, 0)
	var reqErr error
	err := c.provider.AllKeys(ctx, c.keyer.CachePrefix, func(key string) {
		req, err := c.keyer.GetRequestFromKey(key)
		if err != nil {
			reqErr = errors.Join(reqErr, err)
			return
		}
		reqs = append(reqs, req)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].URL.String() < reqs[j].URL.String()
	})
	return reqs, reqErr
}
