package swcache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/always-cache/swcache/cache"
	"github.com/always-cache/swcache/network"
	serializer "github.com/always-cache/swcache/pkg/response-serializer"
	responsetransformer "github.com/always-cache/swcache/pkg/response-transformer"
	"github.com/always-cache/swcache/rfc9111"
	"github.com/always-cache/swcache/rfc9211"
)

// DefaultCacheName is the name of the cache responses are stored in.
const DefaultCacheName = "static"

// DefaultNavigationTimeout is how long navigations wait for the network
// before falling back to the cache.
const DefaultNavigationTimeout = 2 * time.Second

const tracerName = "github.com/always-cache/swcache"

type Config struct {
	// Storage for cached responses.
	Storage *cache.Storage
	// Transport for network requests.
	Network network.Fetcher
	// Name of the cache to use. Defaults to DefaultCacheName.
	CacheName string
	// Time to wait for the network before serving navigations from the cache.
	// Defaults to DefaultNavigationTimeout.
	NavigationTimeout time.Duration
	// Optional rules applied to network responses.
	// Use them e.g. for adding Cache-Control headers the origin does not send.
	Rules responsetransformer.Rules
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Tracer to use. The global otel tracer provider is used if nil.
	Tracer trace.Tracer
}

// Interceptor is a worker handling the lifecycle and fetch events of a host.
type Interceptor struct {
	storage     *cache.Storage
	network     network.Fetcher
	cacheName   string
	timeout     time.Duration
	rules       responsetransformer.Rules
	log         zerolog.Logger
	tracer      trace.Tracer
	state       atomic.Int32
	skipWaiting atomic.Bool
	busy        atomic.Int64
}

// CreateInterceptor creates a worker in the parsed state.
func CreateInterceptor(config Config) *Interceptor {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	cacheName := config.CacheName
	if cacheName == "" {
		cacheName = DefaultCacheName
	}
	timeout := config.NavigationTimeout
	if timeout <= 0 {
		timeout = DefaultNavigationTimeout
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("cache", cacheName).
		Logger()

	return &Interceptor{
		storage:   config.Storage,
		network:   config.Network,
		cacheName: cacheName,
		timeout:   timeout,
		rules:     config.Rules,
		log:       logger,
		tracer:    tracer,
	}
}

// State returns the lifecycle state of the worker.
func (i *Interceptor) State() State {
	return State(i.state.Load())
}

func (i *Interceptor) setState(s State) {
	i.log.Trace().Str("state", s.String()).Msg("Worker state changed")
	i.state.Store(int32(s))
}

// OnInstall handles the install event.
// The worker activates as soon as it is installed.
func (i *Interceptor) OnInstall(ev *ExtendableEvent) {
	ev.Host().SkipWaiting()
}

// OnActivate handles the activate event.
// The worker takes control of all clients and enables navigation preload
// when the host supports it.
func (i *Interceptor) OnActivate(ev *ExtendableEvent) {
	host := ev.Host()
	ev.WaitUntil(func(ctx context.Context) error {
		return host.Claim()
	})
	if preload := host.NavigationPreload(); preload != nil {
		ev.WaitUntil(preload.Enable)
	}
}

// OnFetch handles the fetch event.
// Requests other than GET and HEAD are left to the host.
func (i *Interceptor) OnFetch(ev *FetchEvent) {
	r := ev.Request
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		i.log.Trace().Str("method", r.Method).Str("url", r.URL.String()).Msg("Not intercepting request")
		return
	}

	// the navigation timeout counts from when the fetch is issued
	issuedAt := time.Now()
	source := ev.PreloadResponse
	if source == nil {
		source = StartFetch(ev.Context(), i.network, r)
	} else {
		i.log.Trace().Str("url", r.URL.String()).Msg("Using navigation preload")
	}

	// never delays the response
	ev.WaitUntil(func(ctx context.Context) error {
		i.refresh(ctx, r, source)
		return nil
	})

	if isNavigationOrHTML(r) {
		ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
			return i.traced(ctx, r, "network-first", func(ctx context.Context) (*http.Response, rfc9211.CacheStatus, error) {
				return i.networkFirst(ctx, r, source, issuedAt)
			})
		})
	} else {
		ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
			return i.traced(ctx, r, "cache-first", func(ctx context.Context) (*http.Response, rfc9211.CacheStatus, error) {
				return i.cacheFirst(ctx, r, source)
			})
		})
	}
}

type strategy func(ctx context.Context) (*http.Response, rfc9211.CacheStatus, error)

// traced runs the strategy in a span and adds the cache status to the response.
func (i *Interceptor) traced(ctx context.Context, r *http.Request, name string, s strategy) (*http.Response, error) {
	ctx, span := i.tracer.Start(ctx, "swcache.fetch", trace.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.String("url.path", r.URL.Path),
		attribute.String("swcache.strategy", name),
	))
	defer span.End()

	res, cs, err := s(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("swcache.status", cs.String()))
	cs.Set(res.Header)
	return res, nil
}

// networkFirst races the network against the navigation timeout.
// The timer runs from issuedAt, when the network fetch was started.
func (i *Interceptor) networkFirst(ctx context.Context, r *http.Request, source *Pending, issuedAt time.Time) (*http.Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{}
	timer := time.NewTimer(i.timeout - time.Since(issuedAt))
	defer timer.Stop()

	select {
	case <-source.Done():
		res, err := i.networkResponse(ctx, source)
		if err == nil {
			cs.Forward(rfc9211.FwdReasonRequest)
			cs.Detail = "network"
			return res, cs, nil
		}
		// offline: anything is better than failing
		i.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network failed, trying cache")
		if res, ok := i.match(ctx, r); ok {
			cs.Hit()
			cs.Detail = "offline"
			return res, cs, nil
		}
		return nil, cs, err
	case <-timer.C:
		i.log.Trace().Str("url", r.URL.String()).Dur("timeout", i.timeout).Msg("Network timed out, trying cache")
		if res, ok := i.match(ctx, r); ok {
			cs.Hit()
			cs.Detail = "timeout"
			return res, cs, nil
		}
	case <-ctx.Done():
		return nil, cs, ctx.Err()
	}

	// no cached response: wait for the network however long it takes
	cs.Forward(rfc9211.FwdReasonUriMiss)
	res, err := i.networkResponse(ctx, source)
	return res, cs, err
}

// cacheFirst returns the cached response if there is one, else the network response.
func (i *Interceptor) cacheFirst(ctx context.Context, r *http.Request, source *Pending) (*http.Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{}
	if res, ok := i.match(ctx, r); ok {
		cs.Hit()
		return res, cs, nil
	}
	cs.Forward(rfc9211.FwdReasonUriMiss)
	res, err := i.networkResponse(ctx, source)
	return res, cs, err
}

// match looks up the request in the cache.
// Lookup errors are logged and reported as misses.
func (i *Interceptor) match(ctx context.Context, r *http.Request) (*http.Response, bool) {
	c, err := i.storage.Open(ctx, i.cacheName)
	if err != nil {
		i.log.Error().Err(err).Msg("Could not open cache")
		return nil, false
	}
	snap, ok, err := c.Match(ctx, r)
	if err != nil {
		i.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not match request")
		return nil, false
	}
	if !ok {
		i.log.Trace().Str("url", r.URL.String()).Msg("Cache miss")
		return nil, false
	}
	i.log.Trace().Str("url", r.URL.String()).Time("storedAt", snap.StoredAt).Msg("Cache hit")
	return snap.Response(), true
}

// networkResponse waits for a copy of the network response and applies the rules to it.
func (i *Interceptor) networkResponse(ctx context.Context, source *Pending) (*http.Response, error) {
	res, err := source.Wait(ctx)
	if err != nil {
		return nil, err
	}
	i.rules.Apply(res)
	return res, nil
}

// refresh stores the network response unless its Cache-Control forbids it.
// Failures are logged and otherwise ignored.
func (i *Interceptor) refresh(ctx context.Context, r *http.Request, source *Pending) {
	ctx, span := i.tracer.Start(ctx, "swcache.refresh", trace.WithAttributes(
		attribute.String("url.path", r.URL.Path),
	))
	defer span.End()

	res, err := i.networkResponse(ctx, source)
	if err != nil {
		i.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Not refreshing cache, network failed")
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if directive := storageBlockedBy(res.Header); directive != "" {
		i.log.Trace().Str("url", r.URL.String()).Str("directive", directive).Msg("Not storing response")
		span.SetAttributes(attribute.Bool("swcache.stored", false))
		res.Body.Close()
		return
	}
	c, err := i.storage.Open(ctx, i.cacheName)
	if err != nil {
		i.log.Error().Err(err).Msg("Could not open cache")
		res.Body.Close()
		return
	}
	snap, err := serializer.FromResponse(res)
	if err != nil {
		i.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not read response")
		return
	}
	if err := c.Put(ctx, r, snap); err != nil {
		if errors.Is(err, cache.ErrNotStorable) || r.Method != http.MethodGet {
			i.log.Trace().Err(err).Str("url", r.URL.String()).Msg("Not storing response")
		} else {
			i.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not store response")
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("swcache.stored", false))
		return
	}
	i.log.Trace().Str("url", r.URL.String()).Msg("Stored response")
	span.SetAttributes(attribute.Bool("swcache.stored", true))
}

// storageBlockedBy returns the Cache-Control directive that forbids storing
// the response, or the empty string if it may be stored.
func storageBlockedBy(header http.Header) string {
	cc := rfc9111.ResponseCacheControl(header)
	for _, directive := range []string{
		rfc9111.DirectivePrivate,
		rfc9111.DirectiveMustRevalidate,
		rfc9111.DirectiveNoCache,
	} {
		if cc.HasDirective(directive) {
			return directive
		}
	}
	if maxAge, ok := cc.MaxAge(); ok && maxAge == 0 {
		return "max-age=0"
	}
	return ""
}

// isNavigationOrHTML reports whether the request is a page load.
func isNavigationOrHTML(r *http.Request) bool {
	return isNavigation(r) ||
		strings.Contains(strings.Join(r.Header.Values("Accept"), ","), "text/html")
}

func isNavigation(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate")
}
