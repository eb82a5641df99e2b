package swcache

import (
	"context"
	"net/http"

	"github.com/always-cache/swcache/network"
	serializer "github.com/always-cache/swcache/pkg/response-serializer"
)

// Pending is a network response that may still be in flight.
// It resolves exactly once. Every reader gets its own copy of the response,
// so the same fetch can be returned to the client and written to storage.
type Pending struct {
	done chan struct{}
	snap *serializer.Snapshot
	err  error
}

// StartFetch fetches the response for the request in a new goroutine.
// The fetch runs until it completes or ctx is canceled; giving up on waiting
// for the result does not cancel it.
func StartFetch(ctx context.Context, fetcher network.Fetcher, r *http.Request) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		res, err := fetcher.Fetch(ctx, r)
		if err != nil {
			p.err = err
			return
		}
		if res.Request == nil {
			res.Request = r
		}
		p.snap, p.err = serializer.FromResponse(res)
	}()
	return p
}

// Done is closed once the response or the error is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Snapshot waits for the response and returns it.
// The snapshot is shared; callers must not modify it.
func (p *Pending) Snapshot(ctx context.Context) (*serializer.Snapshot, error) {
	select {
	case <-p.done:
		return p.snap, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait waits for the response and returns a new copy of it.
func (p *Pending) Wait(ctx context.Context) (*http.Response, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Response(), nil
}
