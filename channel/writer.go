package channel

import (
	"io"
	"sync"

	"github.com/sfuctl/workerchannel/netstring"
)

// outboundMsg is one queued outbound record. hasPayload marks a record that
// is followed by a second frame carrying payload: always set for a
// payload-lane notification (payload may be nil or zero-length, and the
// frame is still written), set for a payload-lane request that attaches a
// payload, and unset for every control-lane send.
type outboundMsg struct {
	body       []byte
	payload    []byte
	hasPayload bool
}

// outbound is the single-slot (cap 1) outbound queue shared by a channel's
// writer loop, providing the backpressure the spec requires: a sender
// blocks until the prior write has completed.
type outbound struct {
	w      io.Writer
	maxLen int
	queue  chan outboundMsg

	closeOnce sync.Once
	closed    chan struct{}
}

func newOutbound(w io.Writer, maxLen int) *outbound {
	return &outbound{
		w:      w,
		maxLen: maxLen,
		queue:  make(chan outboundMsg, 1),
		closed: make(chan struct{}),
	}
}

// enqueue blocks until the queue has room or the outbound side is closed.
func (o *outbound) enqueue(msg outboundMsg) error {
	select {
	case o.queue <- msg:
		return nil
	case <-o.closed:
		return ErrChannelClosed
	}
}

func (o *outbound) close() {
	o.closeOnce.Do(func() { close(o.closed) })
}

// run drains the queue, framing and writing each message, until the queue
// is closed or a write fails. onWriteErr is invoked at most once, with the
// failing error, so the owner can tear the whole channel down.
func (o *outbound) run(onWriteErr func(error)) {
	for {
		select {
		case msg := <-o.queue:
			if err := netstring.WriteFrame(o.w, msg.body, o.maxLen); err != nil {
				onWriteErr(err)
				return
			}
			if msg.hasPayload {
				if err := netstring.WriteFrame(o.w, msg.payload, o.maxLen); err != nil {
					onWriteErr(err)
					return
				}
			}
		case <-o.closed:
			return
		}
	}
}
