package credential

import (
	"context"
	"sync"
)

// refreshCoordinator coalesces concurrent refresh operations per credential
// id: if a refresh for a credential is already in flight, other callers
// wait on it instead of issuing a redundant upstream refresh call.
type refreshCoordinator struct {
	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	wg  sync.WaitGroup
	err error
}

func newRefreshCoordinator() *refreshCoordinator {
	return &refreshCoordinator{inflight: make(map[string]*flight)}
}

func (c *refreshCoordinator) Do(ctx context.Context, credID string, fn func(ctx context.Context) error) error {
	if credID == "" {
		return fn(ctx)
	}

	c.mu.Lock()
	if f := c.inflight[credID]; f != nil {
		c.mu.Unlock()
		done := make(chan struct{})
		go func() { f.wg.Wait(); close(done) }()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return f.err
		}
	}
	f := &flight{}
	f.wg.Add(1)
	c.inflight[credID] = f
	c.mu.Unlock()

	err := fn(ctx)
	f.err = err
	f.wg.Done()

	c.mu.Lock()
	delete(c.inflight, credID)
	c.mu.Unlock()
	return err
}
