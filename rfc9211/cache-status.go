// Package rfc9211 implements the Cache-Status HTTP response header field.
package rfc9211

import (
	"fmt"
	"net/http"
)

// HeaderName is the response field carrying the cache status.
const HeaderName = "Cache-Status"

// CacheName identifies this cache in Cache-Status lists.
const CacheName = "swcache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a response for the request, but
	// the request's semantics did not allow its use.
	FwdReasonRequest FwdReason = "request"
)

// CacheStatus holds the parameters of one Cache-Status list member.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// IsHit reports whether the response was served from the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

func (cs CacheStatus) String() string {
	status := CacheName
	switch {
	case cs.Status == StatusHit:
		status += "; hit"
	case cs.FwdReason != "":
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + cs.Detail
	}
	return status
}

// Set adds the status to the header, after any statuses already present.
func (cs CacheStatus) Set(header http.Header) {
	header.Add(HeaderName, cs.String())
}
