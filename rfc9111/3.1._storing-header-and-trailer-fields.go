package rfc9111

import (
	"net/http"
	"strings"
)

// ListHeader returns the members of a list-based field, merged over all
// field lines, with surrounding whitespace removed.
func ListHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}

// §  3.1. Storing Header and Trailer Fields
// §
// §  Caches MUST NOT store [...] header fields that are specific to the
// §  connection: the Connection header field and fields listed in it,
// §  Proxy-Connection, Keep-Alive, TE, Transfer-Encoding, and Upgrade.

// ForwardRequest returns a clone of the request without connection-specific
// header fields, suitable for sending to the next hop.
func ForwardRequest(req *http.Request) *http.Request {
	r := req.Clone(req.Context())

	for _, header := range ListHeader(r.Header, "Connection") {
		r.Header.Del(header)
	}
	r.Header.Del("Connection")
	r.Header.Del("Proxy-Connection")
	r.Header.Del("Keep-Alive")
	r.Header.Del("TE")
	r.Header.Del("Transfer-Encoding")
	r.Header.Del("Upgrade")

	return r
}
