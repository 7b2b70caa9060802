package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/sfuctl/workerchannel/netstring"
)

// payloadDelivery is one paired (notification, payload) ready for dispatch.
type payloadDelivery struct {
	n       Notification
	payload []byte
}

// PayloadChannel is the payload lane (C4). It embeds *Channel for the
// plumbing shared with the control lane — registry, subscription table,
// outbound writer, Done/Err/Close — and layers its own reader and dispatch
// loop on top, since every inbound notification here is immediately
// followed by a second netstring carrying its binary payload.
type PayloadChannel struct {
	*Channel

	payloadQueue chan payloadDelivery
}

// NewPayload constructs a payload channel over rc/w (typically FDs 6 and 5)
// and starts its reader, writer, and dispatch goroutines. It takes
// ownership of rc and w, closing both from Close.
func NewPayload(rc io.ReadCloser, w io.WriteCloser, opts ...Option) *PayloadChannel {
	base := newBase(rc, w, "payload", opts...)
	c := &PayloadChannel{
		Channel:      base,
		payloadQueue: make(chan payloadDelivery, defaultNotifyQueueDepth),
	}
	base.extraClose = func() { close(c.payloadQueue) }

	go base.out.run(func(err error) { base.closeInternal(err) })
	go c.readLoop()
	go c.dispatchLoop()
	return c
}

// Request behaves like Channel.Request, except an outbound payload may be
// attached as a second frame; pass payload == nil to send none.
func (c *PayloadChannel) Request(ctx context.Context, method string, body any, payload []byte) (json.RawMessage, error) {
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
	if payload != nil && len(payload) > c.maxLen {
		c.reg.forget(id)
		return nil, ErrPayloadTooLong
	}

	msg := outboundMsg{body: raw}
	if payload != nil {
		msg.hasPayload = true
		msg.payload = payload
	}
	if err := c.out.enqueue(msg); err != nil {
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

// Notify sends {event, ...body} immediately followed by payload as a
// second frame; payload may be zero-length but the frame is always sent,
// per the payload lane's pairing invariant.
func (c *PayloadChannel) Notify(event string, body any, payload []byte) error {
	raw, err := encodeNotify(event, body)
	if err != nil {
		return err
	}
	if len(raw) > c.maxLen {
		return ErrMessageTooLong
	}
	if len(payload) > c.maxLen {
		return ErrPayloadTooLong
	}
	if err := c.out.enqueue(outboundMsg{body: raw, payload: payload, hasPayload: true}); err != nil {
		return err
	}
	c.obs.Notify()
	return nil
}

// SubscribePayload registers fn for notifications addressed to target; fn
// receives the notification body and its paired payload atomically.
func (c *PayloadChannel) SubscribePayload(target string, fn PayloadNotifyFunc) Handle {
	return c.subs.SubscribePayload(target, fn)
}

func (c *PayloadChannel) readLoop() {
	r := bufio.NewReader(c.rc)
	var buf []byte
	var payloadBuf []byte
	for {
		n, err := netstring.ReadFrame(r, &buf, c.maxLen)
		if err != nil {
			c.closeInternal(err)
			return
		}
		body := append([]byte(nil), buf[:n]...)

		msg, decErr := decodeMessage(body)
		if decErr != nil {
			c.obs.Dropped(DropReasonParseError)
			c.logger.Printf("payload channel: dropping unparseable record: %v", decErr)
			continue
		}

		if msg.Kind == KindNotification {
			// The payload frame always immediately follows; read it before
			// anything else so the pair is never split by another record.
			pn, err := netstring.ReadFrame(r, &payloadBuf, c.maxLen)
			if err != nil {
				c.closeInternal(err)
				return
			}
			payload := append([]byte(nil), payloadBuf[:pn]...)
			c.deliver(msg.Notification, payload)
			continue
		}

		// Response/Log/Unexpected need no payload-lane handling; reuse the
		// embedded Channel's classification.
		c.handle(msg)
	}
}

func (c *PayloadChannel) deliver(n Notification, payload []byte) {
	select {
	case c.payloadQueue <- payloadDelivery{n: n, payload: payload}:
	default:
		c.deliverBlocking(n, payload)
	}
}

func (c *PayloadChannel) deliverBlocking(n Notification, payload []byte) {
	defer func() { recover() }() // payloadQueue may be closed concurrently by Close.
	c.payloadQueue <- payloadDelivery{n: n, payload: payload}
}

func (c *PayloadChannel) dispatchLoop() {
	for d := range c.payloadQueue {
		if !c.subs.dispatchPayload(d.n, d.payload) {
			c.obs.Dropped(DropReasonNoSubscriber)
		}
	}
}
