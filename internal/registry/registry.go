package registry

import (
	"context"
	"sync"
	"time"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

// Call is the caller's handle on one pending request.
type Call struct {
	ID        uint64
	Method    string
	CreatedAt time.Time

	done  chan struct{}
	resp  *models.Response
	err   error
	timer *time.Timer
}

func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or ctx ends. Ending ctx does not
// withdraw the request.
func (c *Call) Wait(ctx context.Context) (*models.Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Call) Completed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type Options struct {
	Now func() time.Time
	// OnComplete runs after a call leaves the registry, outside the lock.
	OnComplete func(call *Call, err error)
}

// Registry maps request ids to pending calls for one connection. Ids start
// at 0 and are never reused.
type Registry struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]*Call
	closed  error
	opts    Options
}

func New(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		pending: make(map[uint64]*Call),
		opts:    opts,
	}
}

// Register allocates the next id. A positive timeout removes the entry and
// fails the call with rpckit.ErrTimeout when it elapses.
func (r *Registry) Register(method string, timeout time.Duration) (*Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return nil, r.closed
	}
	call := &Call{
		ID:        r.next,
		Method:    method,
		CreatedAt: r.opts.Now(),
		done:      make(chan struct{}),
	}
	r.next++
	r.pending[call.ID] = call
	if timeout > 0 {
		id := call.ID
		call.timer = time.AfterFunc(timeout, func() {
			r.Fail(id, rpckit.ErrTimeout)
		})
	}
	return call, nil
}

// Resolve delivers resp to its pending call. It returns false when the id
// is not pending, which includes a duplicate or late response.
func (r *Registry) Resolve(resp *models.Response) bool {
	if resp == nil {
		return false
	}
	call := r.take(resp.ID)
	if call == nil {
		return false
	}
	r.complete(call, resp, nil)
	return true
}

func (r *Registry) Fail(id uint64, err error) bool {
	call := r.take(id)
	if call == nil {
		return false
	}
	r.complete(call, nil, err)
	return true
}

// CloseAll fails every pending call with err and refuses new registrations.
func (r *Registry) CloseAll(err error) int {
	if err == nil {
		err = rpckit.ErrClosed
	}
	r.mu.Lock()
	if r.closed == nil {
		r.closed = err
	}
	calls := make([]*Call, 0, len(r.pending))
	for id, call := range r.pending {
		calls = append(calls, call)
		delete(r.pending, id)
	}
	r.mu.Unlock()

	for _, call := range calls {
		r.complete(call, nil, err)
	}
	return len(calls)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) NextID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

func (r *Registry) Pending(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

func (r *Registry) take(id uint64) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return call
}

// complete is only reached by the goroutine that removed call from the map,
// so each call is completed once.
func (r *Registry) complete(call *Call, resp *models.Response, err error) {
	if call.timer != nil {
		call.timer.Stop()
	}
	call.resp = resp
	call.err = err
	close(call.done)
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(call, err)
	}
}
