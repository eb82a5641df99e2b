package swcache

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ExtendableEvent is delivered to the install and activate handlers.
// Work registered with WaitUntil keeps the event busy until it finishes.
type ExtendableEvent struct {
	host  Host
	ctx   context.Context
	group *errgroup.Group
}

// NewExtendableEvent creates an event dispatched by host.
// Work registered with WaitUntil is run with ctx.
func NewExtendableEvent(ctx context.Context, host Host) *ExtendableEvent {
	group, ctx := errgroup.WithContext(ctx)
	return &ExtendableEvent{
		host:  host,
		ctx:   ctx,
		group: group,
	}
}

// Host returns the host that dispatched the event.
func (e *ExtendableEvent) Host() Host {
	return e.host
}

// Context returns the context of the event.
// It is not canceled when the client goes away.
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil runs fn in its own goroutine and extends the event until it returns.
// The first error returned by any fn is returned by Wait.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.group.Go(func() error {
		return fn(e.ctx)
	})
}

// Wait blocks until all work registered with WaitUntil has finished.
func (e *ExtendableEvent) Wait() error {
	return e.group.Wait()
}

// Responder produces the response to a fetch event.
// ctx is canceled when the client is no longer interested in the response.
type Responder func(ctx context.Context) (*http.Response, error)

// FetchEvent is delivered to the fetch handler for every controlled request.
type FetchEvent struct {
	*ExtendableEvent
	// The intercepted request. Handlers must not modify it.
	Request *http.Request
	// The navigation preload started by the host, nil if there is none.
	PreloadResponse *Pending

	mutex     sync.Mutex
	responder Responder
}

func NewFetchEvent(ctx context.Context, host Host, r *http.Request, preload *Pending) *FetchEvent {
	return &FetchEvent{
		ExtendableEvent: NewExtendableEvent(ctx, host),
		Request:         r,
		PreloadResponse: preload,
	}
}

// RespondWith takes over the request.
// Only the first call has an effect. If it is never called, the host
// handles the request as if there was no fetch handler.
func (e *FetchEvent) RespondWith(responder Responder) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.responder == nil {
		e.responder = responder
	}
}

// Responder returns the function passed to RespondWith, nil if none.
func (e *FetchEvent) Responder() Responder {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.responder
}
