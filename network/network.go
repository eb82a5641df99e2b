// Package network provides the transports the interceptor fetches responses with.
package network

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	tee "github.com/always-cache/swcache/pkg/response-writer-tee"
	"github.com/always-cache/swcache/rfc9111"
)

// Fetcher fetches the response for a request.
// It returns an error only when no response could be obtained at all;
// error statuses are responses like any other.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

type OriginConfig struct {
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Transport to use. If nil, http.DefaultTransport or a transport with
	// the TLS server name set to OriginHost is used.
	Transport http.RoundTripper
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Origin fetches responses from a single origin server over HTTP.
type Origin struct {
	originURL  url.URL
	originHost string
	httpClient http.Client
	log        zerolog.Logger
}

func NewOrigin(config OriginConfig) *Origin {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	o := &Origin{
		originURL:  config.OriginURL,
		originHost: config.OriginHost,
		log:        logger.With().Str("origin", config.OriginURL.String()).Logger(),
		httpClient: http.Client{
			Transport: config.Transport,
			// do not follow redirects, the client does that
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	// use provided hostname for origin if configured
	if o.httpClient.Transport == nil && o.originHost != "" {
		o.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: o.originHost,
			},
		}
	}
	return o
}

// Fetch forwards the request to the origin.
func (o *Origin) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	fwd := rfc9111.ForwardRequest(r)
	uri := o.originURL.String() + fwd.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := fwd.Body
	if fwd.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, fwd.Method, uri, body)
	if err != nil {
		o.log.Error().Err(err).Str("uri", uri).Msg("Could not create request for fetching")
		return nil, err
	}
	req.ContentLength = fwd.ContentLength
	req.Host = o.originHost
	copyHeader(req.Header, fwd.Header)
	o.log.Trace().Str("method", req.Method).Str("uri", uri).Msg("Fetching from origin")

	res, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	// as per https://www.rfc-editor.org/rfc/rfc9110#section-6.6.1-8
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", rfc9111.HttpDate(time.Now()))
	}
	// report the client's request, not the one sent to the origin
	res.Request = r
	return res, nil
}

// Handler fetches responses from an in-process http.Handler.
type Handler struct {
	handler http.Handler
}

func NewHandler(handler http.Handler) Handler {
	return Handler{handler: handler}
}

func (h Handler) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rw := tee.NewResponseSaver(nil)
	h.handler.ServeHTTP(rw, r.Clone(ctx))
	return rw.Result(r), nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
