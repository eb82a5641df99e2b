package swcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/swcache/network"
	"github.com/always-cache/swcache/rfc9211"
)

// PreloadHeaderName is the request header marking navigation preload requests.
const PreloadHeaderName = "Service-Worker-Navigation-Preload"

// ErrNotActive is returned by Claim when the worker is neither activating nor active.
var ErrNotActive = errors.New("Worker is not active")

// Host is what a worker can ask of the host running it.
type Host interface {
	// SkipWaiting makes the installing worker activate without waiting
	// for the active worker to become idle.
	SkipWaiting()
	// Claim makes the worker control all requests immediately.
	Claim() error
	// NavigationPreload returns nil if the host does not support preloading.
	NavigationPreload() NavigationPreloadManager
}

// NavigationPreloadManager controls fetching navigations in parallel with
// starting up the fetch handler.
type NavigationPreloadManager interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

type RegistrationConfig struct {
	// Transport for requests the worker does not handle, and for preloads.
	Network network.Fetcher
	// Support navigation preload. Workers still need to enable it.
	NavigationPreload bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Registration runs workers and routes requests through the active one.
// It implements http.Handler.
type Registration struct {
	network     network.Fetcher
	log         zerolog.Logger
	preload     *navigationPreload
	active      atomic.Pointer[Interceptor]
	controlling atomic.Bool
	// serializes registering workers
	registerMutex sync.Mutex
	// guards closing and busy.Add
	mutex   sync.Mutex
	closing bool
	busy    sync.WaitGroup
}

func NewRegistration(config RegistrationConfig) *Registration {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	reg := &Registration{
		network: config.Network,
		log:     logger,
	}
	if config.NavigationPreload {
		reg.preload = &navigationPreload{}
	}
	return reg
}

// Active returns the active worker, nil if there is none.
func (reg *Registration) Active() *Interceptor {
	return reg.active.Load()
}

// State returns the state of the active worker.
// It is StateParsed if no worker is active.
func (reg *Registration) State() State {
	if worker := reg.active.Load(); worker != nil {
		return worker.State()
	}
	return StateParsed
}

// Controlling reports whether requests are routed through the active worker.
func (reg *Registration) Controlling() bool {
	return reg.controlling.Load()
}

// PreloadEnabled reports whether navigation preload is enabled.
func (reg *Registration) PreloadEnabled() bool {
	return reg.preload != nil && reg.preload.enabled.Load()
}

// Register installs and activates the worker.
// If the worker does not skip waiting, activation waits until the current
// active worker has no events in progress. The previous worker becomes
// redundant.
func (reg *Registration) Register(ctx context.Context, worker *Interceptor) error {
	reg.registerMutex.Lock()
	defer reg.registerMutex.Unlock()

	host := &workerHost{reg: reg, worker: worker}

	worker.setState(StateInstalling)
	install := NewExtendableEvent(ctx, host)
	worker.OnInstall(install)
	if err := install.Wait(); err != nil {
		worker.setState(StateRedundant)
		return fmt.Errorf("could not install worker: %w", err)
	}
	worker.setState(StateInstalled)

	previous := reg.active.Load()
	if previous != nil && !worker.skipWaiting.Load() {
		reg.log.Debug().Msg("Waiting for active worker to become idle")
		if err := waitIdle(ctx, previous); err != nil {
			worker.setState(StateRedundant)
			return fmt.Errorf("worker not activated: %w", err)
		}
	}

	worker.setState(StateActivating)
	activate := NewExtendableEvent(ctx, host)
	worker.OnActivate(activate)
	if err := activate.Wait(); err != nil {
		// a failed activation does not prevent the worker from running
		reg.log.Warn().Err(err).Msg("Worker activation failed")
	}
	reg.active.Store(worker)
	worker.setState(StateActivated)
	if previous != nil {
		previous.setState(StateRedundant)
	}
	reg.log.Info().Bool("controlling", reg.controlling.Load()).Msg("Worker activated")
	return nil
}

func waitIdle(ctx context.Context, worker *Interceptor) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for worker.busy.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Shutdown stops routing requests through the worker and waits until all
// events in progress have finished, or ctx is done.
func (reg *Registration) Shutdown(ctx context.Context) error {
	reg.mutex.Lock()
	reg.closing = true
	reg.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		reg.busy.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP implements the http.Handler interface.
func (reg *Registration) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	worker := reg.active.Load()
	if worker == nil || !reg.controls(r) || !reg.enter() {
		reg.passThrough(w, r, rfc9211.FwdReasonBypass, nil)
		return
	}
	worker.busy.Add(1)

	// events outlive the client request
	ctx := context.WithoutCancel(r.Context())

	var preload *Pending
	if reg.PreloadEnabled() && isNavigation(r) && r.Method == http.MethodGet {
		preload = StartFetch(ctx, reg.network, preloadRequest(r))
	}

	ev := NewFetchEvent(ctx, &workerHost{reg: reg, worker: worker}, r, preload)
	worker.OnFetch(ev)

	go func() {
		defer reg.busy.Done()
		defer worker.busy.Add(-1)
		if err := ev.Wait(); err != nil {
			reg.log.Warn().Err(err).Str("url", r.URL.String()).Msg("Fetch event failed")
		}
	}()

	responder := ev.Responder()
	if responder == nil {
		reg.passThrough(w, r, rfc9211.FwdReasonMethod, preload)
		return
	}
	res, err := responder(r.Context())
	if err != nil {
		reg.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not get response")
		reg.sendError(w, r)
		return
	}
	reg.sendResponse(w, r, res)
}

// controls reports whether the request goes through the worker.
// A worker that did not claim its clients controls them from their next navigation.
func (reg *Registration) controls(r *http.Request) bool {
	if reg.controlling.Load() {
		return true
	}
	if isNavigation(r) {
		reg.controlling.Store(true)
		return true
	}
	return false
}

// enter marks the start of an event, unless shutting down.
func (reg *Registration) enter() bool {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	if reg.closing {
		return false
	}
	reg.busy.Add(1)
	return true
}

// passThrough sends the request to the network without involving the cache.
func (reg *Registration) passThrough(w http.ResponseWriter, r *http.Request, reason rfc9211.FwdReason, preload *Pending) {
	reg.log.Trace().Str("url", r.URL.String()).Str("fwd", string(reason)).Msg("Passing request through")
	var res *http.Response
	var err error
	if preload != nil {
		res, err = preload.Wait(r.Context())
	} else {
		res, err = reg.network.Fetch(r.Context(), r)
	}
	if err != nil {
		reg.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not fetch from network")
		reg.sendError(w, r)
		return
	}
	cs := rfc9211.CacheStatus{}
	cs.Forward(reason)
	cs.Set(res.Header)
	reg.sendResponse(w, r, res)
}

func (reg *Registration) sendError(w http.ResponseWriter, r *http.Request) {
	reg.logRequest(r, http.StatusBadGateway, "")
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

func (reg *Registration) sendResponse(w http.ResponseWriter, r *http.Request, res *http.Response) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	reg.logRequest(r, res.StatusCode, res.Header.Get(rfc9211.HeaderName))
	if r.Method == http.MethodHead || res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		reg.log.Error().Err(err).Msg("Could not write response body to client")
	}
	reg.log.Trace().Msgf("Wrote body (%s)", humanize.Bytes(uint64(bytesWritten)))
}

func (reg *Registration) logRequest(r *http.Request, status int, cacheStatus string) {
	reg.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", status).
		Str("cacheStatus", cacheStatus).
		Msg("Sending response to client")
}

// preloadRequest returns a copy of the navigation request marked as a preload.
func preloadRequest(r *http.Request) *http.Request {
	req := r.Clone(context.WithoutCancel(r.Context()))
	req.Header.Set(PreloadHeaderName, "true")
	return req
}

// workerHost is the Host given to the events of one worker.
type workerHost struct {
	reg    *Registration
	worker *Interceptor
}

func (h *workerHost) SkipWaiting() {
	h.worker.skipWaiting.Store(true)
}

func (h *workerHost) Claim() error {
	if s := h.worker.State(); s != StateActivating && s != StateActivated {
		return ErrNotActive
	}
	h.reg.controlling.Store(true)
	return nil
}

func (h *workerHost) NavigationPreload() NavigationPreloadManager {
	// avoid returning a typed nil
	if h.reg.preload == nil {
		return nil
	}
	return h.reg.preload
}

type navigationPreload struct {
	enabled atomic.Bool
}

func (p *navigationPreload) Enable(ctx context.Context) error {
	p.enabled.Store(true)
	return nil
}

func (p *navigationPreload) Disable(ctx context.Context) error {
	p.enabled.Store(false)
	return nil
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
