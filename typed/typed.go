// Package typed layers strongly-typed request/response/notification shapes
// over the channel package's dynamic JSON substrate, so calling code never
// touches json.RawMessage directly.
package typed

import (
	"context"
	"encoding/json"

	"github.com/sfuctl/workerchannel/channel"
)

// Caller is satisfied by *channel.Channel; narrowed here so typed helpers
// don't depend on the full Channel surface.
type Caller interface {
	Request(ctx context.Context, method string, body any) (json.RawMessage, error)
}

// Notifier is satisfied by *channel.Channel.
type Notifier interface {
	Notify(event string, body any) error
}

// Subscriber is satisfied by *channel.Channel.
type Subscriber interface {
	Subscribe(target string, fn channel.NotifyFunc) channel.Handle
}

// Call issues a typed request: req is marshaled as the method's body fields
// and the response data is unmarshaled into TResp. A nil req sends no body
// fields beyond id/method.
func Call[TReq any, TResp any](ctx context.Context, c Caller, method string, req *TReq) (*TResp, error) {
	data, err := c.Request(ctx, method, req)
	if err != nil {
		return nil, err
	}
	var resp TResp
	if len(data) != 0 {
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, channel.ParseError(err)
		}
	}
	return &resp, nil
}

// Notify sends a typed one-way notification.
func Notify[T any](n Notifier, event string, msg *T) error {
	return n.Notify(event, msg)
}

// Subscribe registers fn for target's notifications, unmarshaling each raw
// notification body into T before delivery. Unmarshal failures are dropped
// silently; callers needing that signal should subscribe on the untyped
// Channel directly.
func Subscribe[T any](s Subscriber, target string, fn func(T)) channel.Handle {
	return s.Subscribe(target, func(n channel.Notification) {
		var msg T
		if err := json.Unmarshal(n.Raw, &msg); err != nil {
			return
		}
		fn(msg)
	})
}
