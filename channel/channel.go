// Package channel implements the worker control and payload channels: the
// two framed, multiplexed lanes between the host and a worker subprocess.
package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/sfuctl/workerchannel/netstring"
)

const defaultNotifyQueueDepth = 64

// Channel is the control lane (C3): JSON-only records, dispatching inbound
// responses, notifications, and log lines, and sending outbound requests
// and notifications.
type Channel struct {
	rc     io.ReadCloser
	wc     io.Closer
	out    *outbound
	reg    *registry
	subs   *subscriptions
	logger *log.Logger
	obs    Observer
	maxLen int

	notifyQueue chan Notification

	closeOnce sync.Once
	doneCh    chan struct{}
	errMu     sync.Mutex
	lastErr   error

	// extraClose, if set, runs at the end of closeInternal. PayloadChannel
	// uses it to tear down the payload-lane dispatch queue it layers on top
	// of this struct.
	extraClose func()
}

// Option configures a Channel at construction.
type Option func(*Channel)

// WithLogger sets the logger used for log-lane lines and internal
// diagnostics; nil restores the default (log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(c *Channel) {
		if l == nil {
			l = log.Default()
		}
		c.logger = l
	}
}

// WithObserver sets the metrics observer; nil restores NoopObserver.
func WithObserver(obs Observer) Option {
	return func(c *Channel) {
		if obs == nil {
			obs = NoopObserver
		}
		c.obs = obs
	}
}

// WithMaxFrameBytes overrides netstring.MaxLen for this channel.
func WithMaxFrameBytes(n int) Option {
	return func(c *Channel) { c.maxLen = n }
}

// newBase builds a Channel's shared plumbing — pipes, registry, subscription
// table, outbound writer — without starting any goroutines, so PayloadChannel
// can embed the result and layer its own reader/dispatcher on top instead of
// duplicating this construction. lane labels the registry's in-flight gauge
// ("control" or "payload").
func newBase(rc io.ReadCloser, w io.WriteCloser, lane string, opts ...Option) *Channel {
	c := &Channel{
		rc:          rc,
		wc:          w,
		logger:      log.Default(),
		obs:         NoopObserver,
		maxLen:      netstring.MaxLen,
		notifyQueue: make(chan Notification, defaultNotifyQueueDepth),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reg = newRegistry(func(depth int) { c.obs.InFlight(lane, depth) })
	c.subs = newSubscriptions(c.logger)
	c.out = newOutbound(w, c.maxLen)
	return c
}

// New constructs a control channel reading from rc and writing to w, and
// starts its reader, writer, and notification-dispatch goroutines. rc and w
// are typically the two ends of the host<->worker control pipe pair (FDs 4
// and 3); New takes ownership and closes both from Close.
func New(rc io.ReadCloser, w io.WriteCloser, opts ...Option) *Channel {
	c := newBase(rc, w, "control", opts...)
	go c.out.run(func(err error) { c.closeInternal(err) })
	go c.readLoop()
	go c.dispatchLoop()
	return c
}

// Done is closed once the channel has torn down, by explicit Close or by an
// I/O error on either the reader or writer task.
func (c *Channel) Done() <-chan struct{} { return c.doneCh }

// Err returns the error that caused teardown, or nil after an explicit
// Close with no prior I/O error.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Request sends {id, method, ...body} and blocks until the matching
// response arrives, the scaled per-request deadline elapses, or ctx is
// done. On ctx cancellation the request id remains pending on the worker
// side; a background goroutine reclaims it on eventual response or
// timeout, per the registry-local-only cancellation semantics of this
// layer (the worker is never told to cancel).
func (c *Channel) Request(ctx context.Context, method string, body any) (json.RawMessage, error) {
	start := time.Now()
	id, depth, comp, err := c.reg.reserve()
	if err != nil {
		c.obs.Request(RequestResultClosed, 0)
		return nil, err
	}

	raw, err := encodeRequest(id, method, body)
	if err != nil {
		c.reg.forget(id)
		return nil, err
	}
	if len(raw) > c.maxLen {
		c.reg.forget(id)
		return nil, ErrMessageTooLong
	}
	if err := c.out.enqueue(outboundMsg{body: raw}); err != nil {
		c.reg.forget(id)
		c.obs.Request(RequestResultClosed, time.Since(start))
		return nil, ErrChannelClosed
	}

	timer := time.NewTimer(timeoutFor(depth))
	select {
	case <-ctx.Done():
		go func() {
			select {
			case <-comp.ch:
			case <-timer.C:
				c.reg.forget(id)
			}
			timer.Stop()
		}()
		return nil, ctx.Err()
	case <-timer.C:
		c.reg.forget(id)
		c.obs.Request(RequestResultTimedOut, time.Since(start))
		return nil, ErrTimedOut
	case resp, ok := <-comp.ch:
		timer.Stop()
		if !ok {
			c.obs.Request(RequestResultClosed, time.Since(start))
			return nil, ErrChannelClosed
		}
		if !resp.Accepted {
			c.obs.Request(RequestResultError, time.Since(start))
			return nil, ResponseError(resp.Reason)
		}
		c.obs.Request(RequestResultOK, time.Since(start))
		return resp.Data, nil
	}
}

// Notify sends a fire-and-forget {event, ...body} record.
func (c *Channel) Notify(event string, body any) error {
	raw, err := encodeNotify(event, body)
	if err != nil {
		return err
	}
	if len(raw) > c.maxLen {
		return ErrMessageTooLong
	}
	if err := c.out.enqueue(outboundMsg{body: raw}); err != nil {
		return err
	}
	c.obs.Notify()
	return nil
}

// Subscribe registers fn to receive notifications addressed to target, in
// the order they arrive. The returned Handle's Unsubscribe removes it.
func (c *Channel) Subscribe(target string, fn NotifyFunc) Handle {
	return c.subs.Subscribe(target, fn)
}

// Close tears the channel down: pending requests fail with ErrChannelClosed,
// subscribers stop receiving deliveries, and the underlying pipe ends are
// closed.
func (c *Channel) Close() error {
	c.closeInternal(nil)
	return nil
}

func (c *Channel) closeInternal(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.lastErr = err
		c.errMu.Unlock()

		c.reg.closeAll()
		c.out.close()
		close(c.doneCh)
		close(c.notifyQueue)
		c.rc.Close()
		c.wc.Close()
		if c.extraClose != nil {
			c.extraClose()
		}
	})
}

func (c *Channel) readLoop() {
	r := bufio.NewReader(c.rc)
	var buf []byte
	for {
		n, err := netstring.ReadFrame(r, &buf, c.maxLen)
		if err != nil {
			c.closeInternal(err)
			return
		}
		msg, err := decodeMessage(buf[:n])
		if err != nil {
			c.obs.Dropped(DropReasonParseError)
			c.logger.Printf("channel: dropping unparseable control record: %v", err)
			continue
		}
		c.handle(msg)
	}
}

func (c *Channel) handle(msg Message) {
	switch msg.Kind {
	case KindResponse:
		if !c.reg.deliver(msg.Response) {
			c.obs.Dropped(DropReasonUnmatchedResp)
			c.logger.Printf("channel: response for unknown request id %d", msg.Response.ID)
		}
	case KindNotification:
		select {
		case c.notifyQueue <- msg.Notification:
		default:
			// Queue momentarily full: block the reader rather than drop,
			// preserving per-target delivery order.
			c.notifyQueueBlocking(msg.Notification)
		}
	case KindLog:
		c.logger.Printf("worker[%c]: %s", msg.Log.Level, msg.Log.Text)
	case KindUnexpected:
		c.obs.Dropped(DropReasonNoSubscriber)
		c.logger.Printf("channel: unexpected record, command=%q len=%d", msg.Unexpected.Command, len(msg.Unexpected.Data))
	}
}

func (c *Channel) notifyQueueBlocking(n Notification) {
	defer func() { recover() }() // notifyQueue may be closed concurrently by Close.
	c.notifyQueue <- n
}

func (c *Channel) dispatchLoop() {
	for n := range c.notifyQueue {
		if !c.subs.dispatch(n) {
			c.obs.Dropped(DropReasonNoSubscriber)
		}
	}
}
