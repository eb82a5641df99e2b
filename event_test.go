package swcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingCopiesAreIndependent(t *testing.T) {
	p := StartFetch(context.Background(), &fakeNetwork{body: "body", header: http.Header{"X-A": {"1"}}}, httptest.NewRequest("GET", "/", nil))

	first, err := p.Wait(context.Background())
	require.NoError(t, err)
	second, err := p.Wait(context.Background())
	require.NoError(t, err)

	b, _ := io.ReadAll(first.Body)
	assert.Equal(t, "body", string(b))
	first.Header.Set("X-A", "changed")
	b, _ = io.ReadAll(second.Body)
	assert.Equal(t, "body", string(b))
	assert.Equal(t, "1", second.Header.Get("X-A"))
}

func TestPendingError(t *testing.T) {
	offline := errors.New("offline")
	p := StartFetch(context.Background(), &fakeNetwork{err: offline}, httptest.NewRequest("GET", "/", nil))

	_, err := p.Wait(context.Background())
	assert.ErrorIs(t, err, offline)
}

func TestPendingWaitIsCancelable(t *testing.T) {
	p := StartFetch(context.Background(), blockedNetwork(t), httptest.NewRequest("GET", "/", nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	select {
	case <-p.Done():
		t.Fatal("Fetch should still be pending")
	default:
	}
}

func TestExtendableEventWaitsForAll(t *testing.T) {
	ev := NewExtendableEvent(context.Background(), &fakeHost{})
	failed := errors.New("failed")
	finished := false
	ev.WaitUntil(func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		finished = true
		return nil
	})
	ev.WaitUntil(func(ctx context.Context) error {
		return failed
	})

	assert.ErrorIs(t, ev.Wait(), failed)
	assert.True(t, finished)
}

func TestRespondWithFirstCallWins(t *testing.T) {
	ev := NewFetchEvent(context.Background(), &fakeHost{}, httptest.NewRequest("GET", "/", nil), nil)
	assert.Nil(t, ev.Responder())

	ev.RespondWith(func(context.Context) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	ev.RespondWith(func(context.Context) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot}, nil
	})

	res, err := ev.Responder()(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "activated", StateActivated.String())
	assert.Equal(t, "redundant", StateRedundant.String())
	assert.Equal(t, "unknown", State(42).String())
}
