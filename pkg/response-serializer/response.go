package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Swcache-Stored-At"

// Snapshot is an owned copy of an HTTP response with its body fully read.
// A response body can be consumed only once, so anything that needs to read
// the same response more than once works on a Snapshot and asks it for
// independent copies with Response.
type Snapshot struct {
	Status     string
	StatusCode int
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Header     http.Header
	Body       []byte
	// The request the response answers, if known. Not serialized.
	Request *http.Request
	// When the response was written to storage. Zero if never stored.
	StoredAt time.Time
}

// FromResponse reads and closes the response body and returns the snapshot.
// The response must not be used afterwards.
func FromResponse(res *http.Response) (*Snapshot, error) {
	if res == nil {
		return nil, fmt.Errorf("Response is nil")
	}
	snap := &Snapshot{
		Status:     res.Status,
		StatusCode: res.StatusCode,
		Proto:      res.Proto,
		ProtoMajor: res.ProtoMajor,
		ProtoMinor: res.ProtoMinor,
		Header:     res.Header.Clone(),
		Request:    res.Request,
	}
	if snap.Header == nil {
		snap.Header = make(http.Header)
	}
	if snap.ProtoMajor == 0 {
		snap.Proto, snap.ProtoMajor, snap.ProtoMinor = "HTTP/1.1", 1, 1
	}
	if res.Body != nil {
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, fmt.Errorf("could not read response body: %w", err)
		}
		snap.Body = body
	}
	return snap, nil
}

// Response returns a new response for the snapshot.
// Every call returns a copy with its own header map and body reader.
func (s *Snapshot) Response() *http.Response {
	return &http.Response{
		Status:        s.Status,
		StatusCode:    s.StatusCode,
		Proto:         s.Proto,
		ProtoMajor:    s.ProtoMajor,
		ProtoMinor:    s.ProtoMinor,
		Header:        s.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       s.Request,
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	clone := *s
	clone.Header = s.Header.Clone()
	clone.Body = bytes.Clone(s.Body)
	return &clone
}

// Bytes returns the HTTP/1.1 representation of the snapshot.
// The storage time travels as an extra header.
func (s *Snapshot) Bytes() ([]byte, error) {
	res := s.Response()
	// never write the body as a response to HEAD
	res.Request = nil
	if !s.StoredAt.IsZero() {
		res.Header.Set(storedAtHeaderName, strconv.FormatInt(s.StoredAt.Unix(), 10))
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes parses a snapshot previously created with Bytes.
// The request is attached to the snapshot as is.
func FromBytes(b []byte, req *http.Request) (*Snapshot, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return nil, err
	}
	var storedAt time.Time
	if storedAtStr := res.Header.Get(storedAtHeaderName); storedAtStr != "" {
		storedAtInt, err := strconv.ParseInt(storedAtStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed %s header: %w", storedAtHeaderName, err)
		}
		storedAt = time.Unix(storedAtInt, 0)
		res.Header.Del(storedAtHeaderName)
	}
	snap, err := FromResponse(res)
	if err != nil {
		return nil, err
	}
	snap.Request = req
	snap.StoredAt = storedAt
	return snap, nil
}
