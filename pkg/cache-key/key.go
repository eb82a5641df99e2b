package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorMethodNotSupported is returned for requests a cache cannot key.
// Like a browser cache, only GET requests are stored.
var ErrorMethodNotSupported = errors.New("Method not supported")

const (
	nameSeparator   = ":"
	methodSeparator = ":"
)

type CacheKeyer struct {
	// Name of the cache the keys belong to.
	CacheName string
	// Key prefix shared by all entries of the cache.
	CachePrefix string
}

func NewCacheKeyer(cacheName string) CacheKeyer {
	return CacheKeyer{
		CacheName:   cacheName,
		CachePrefix: cacheName + nameSeparator,
	}
}

// MethodPrefix gets the key prefix for the cache with the given method.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.CachePrefix + method + methodSeparator
}

// GetKey returns the key identifying the request in the cache.
// Requests are equal when method and request URI are equal; the fragment
// is never part of the key.
func (c CacheKeyer) GetKey(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrorMethodNotSupported
	}
	return c.MethodPrefix(r.Method) + r.URL.RequestURI(), nil
}

// GetRequestFromKey creates a request equal (cache-wise) to the request
// that resulted in the provided key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.CachePrefix) {
		return nil, fmt.Errorf("Key and cache do not match")
	}
	method, uri, found := strings.Cut(strings.TrimPrefix(key, c.CachePrefix), methodSeparator)
	if !found || uri == "" {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
