package submission

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/cliffordwilliam/WitheredBlogClient/internal/client/authapi"
)

// Guard ensures a browser session has at most one login submission in flight. Submissions that
// arrive while another is pending for the same key wait for it and share its outcome instead of
// issuing a second upstream request.
type Guard struct {
	group singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewGuard constructs an empty Guard.
func NewGuard() *Guard {
	return &Guard{pending: make(map[string]struct{})}
}

// SubmitFunc performs the upstream submission.
type SubmitFunc func(ctx context.Context) (*authapi.Result, error)

// Do runs fn for key unless a call for key is already pending. shared is true when the outcome
// came from a call started by another request. An empty key disables deduplication.
//
// fn runs detached from the caller's cancellation: a browser that disconnects mid-submission does
// not abort the upstream call other waiters may be sharing. The upstream client's own timeout
// bounds it.
func (g *Guard) Do(ctx context.Context, key string, fn SubmitFunc) (res *authapi.Result, shared bool, err error) {
	if key == "" {
		res, err = fn(ctx)
		return res, false, err
	}

	detached := context.WithoutCancel(ctx)
	owner := false
	ch := g.group.DoChan(key, func() (any, error) {
		owner = true
		g.markPending(key, true)
		defer g.markPending(key, false)
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, !owner, out.Err
		}
		result, _ := out.Val.(*authapi.Result)
		return result, !owner, nil
	}
}

// InFlight reports whether a submission for key is currently pending.
func (g *Guard) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key]
	return ok
}

func (g *Guard) markPending(key string, pending bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pending {
		g.pending[key] = struct{}{}
		return
	}
	delete(g.pending, key)
}
