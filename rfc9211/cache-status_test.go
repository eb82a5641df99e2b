package rfc9211

import (
	"net/http"
	"testing"
)

func TestHitString(t *testing.T) {
	cs := CacheStatus{}
	cs.Forward(FwdReasonUriMiss)
	cs.Hit()
	cs.Detail = "timeout"
	if s := cs.String(); s != "swcache; hit; detail=timeout" {
		t.Fatalf("Cache-Status is %s", s)
	}
}

func TestForwardString(t *testing.T) {
	cs := CacheStatus{}
	cs.Forward(FwdReasonMethod)
	if s := cs.String(); s != "swcache; fwd=method" {
		t.Fatalf("Cache-Status is %s", s)
	}
	if cs.IsHit() {
		t.Fatal("Forwarded status reported as hit")
	}
}

func TestSetAppends(t *testing.T) {
	header := http.Header{}
	header.Add(HeaderName, "upstream; hit")
	cs := CacheStatus{}
	cs.Forward(FwdReasonBypass)
	cs.Set(header)
	if values := header.Values(HeaderName); len(values) != 2 || values[1] != "swcache; fwd=bypass" {
		t.Fatalf("Cache-Status values are %v", values)
	}
}
