package channel

import (
	"sync"
	"time"

	"github.com/sfuctl/workerchannel/internal/defaults"
)

// completion is the one-shot slot a pending request blocks on.
type completion struct {
	ch chan Response
}

// registry allocates request ids and matches inbound responses to the
// caller awaiting them. A single mutex guards insert/remove/depth-read;
// callers never hold it across a channel send or receive.
type registry struct {
	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]*completion
	closed  bool

	// onDepthChange reports the post-mutation pending count, for an
	// observer's in-flight gauge. Never nil.
	onDepthChange func(int)
}

func newRegistry(onDepthChange func(int)) *registry {
	if onDepthChange == nil {
		onDepthChange = func(int) {}
	}
	return &registry{pending: make(map[uint32]*completion), onDepthChange: onDepthChange}
}

// reserve allocates the next id (wrapping at 2^32) and parks a completion
// slot for it, returning the current in-flight depth measured before this
// request was added.
func (r *registry) reserve() (id uint32, depth int, c *completion, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, 0, nil, ErrChannelClosed
	}
	depth = len(r.pending)
	id = r.nextID
	r.nextID++
	c = &completion{ch: make(chan Response, 1)}
	r.pending[id] = c
	n := len(r.pending)
	r.mu.Unlock()

	r.onDepthChange(n)
	return id, depth, c, nil
}

func (r *registry) forget(id uint32) {
	r.mu.Lock()
	delete(r.pending, id)
	n := len(r.pending)
	r.mu.Unlock()

	r.onDepthChange(n)
}

// deliver routes an inbound response to its pending request. It reports
// whether a pending request with that id existed; a false return means the
// response arrived after the request's deadline fired and should be logged
// and dropped by the caller.
func (r *registry) deliver(resp Response) bool {
	r.mu.Lock()
	c, ok := r.pending[resp.ID]
	if ok {
		delete(r.pending, resp.ID)
	}
	n := len(r.pending)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.onDepthChange(n)
	c.ch <- resp
	return true
}

// closeAll fails every pending request with ChannelClosed and marks the
// registry closed so subsequent reserve calls fail fast.
func (r *registry) closeAll() {
	r.mu.Lock()
	r.closed = true
	pending := r.pending
	r.pending = make(map[uint32]*completion)
	r.mu.Unlock()

	r.onDepthChange(0)
	for _, c := range pending {
		close(c.ch)
	}
}

// timeoutFor returns the scaled per-request deadline: defaults.BaseRequestTimeout
// plus defaults.PerInFlightTimeout per request already in flight when this
// one was reserved, rounded to the nearest millisecond.
func timeoutFor(depth int) time.Duration {
	base := defaults.BaseRequestTimeout.Seconds()
	per := defaults.PerInFlightTimeout.Seconds()
	ms := int64(1000*(base+per*float64(depth)) + 0.5)
	return time.Duration(ms) * time.Millisecond
}
