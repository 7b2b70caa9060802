package channel

import (
	"encoding/json"

	"github.com/sfuctl/workerchannel/ppid"
)

// dataChannelNotification is the subset of fields a payload-lane
// "message" notification carries for an SCTP data-channel payload.
type dataChannelNotification struct {
	PPID ppid.PPID `json:"ppid"`
}

// SubscribeDataChannel registers fn for target's payload-lane notifications,
// decoding the trailing payload per the SCTP PPID the worker reported. A
// notification with an unsupported PPID is logged and dropped via the
// observer rather than delivered, matching ErrBadPpid's semantics for
// inbound data.
func (c *PayloadChannel) SubscribeDataChannel(target string, fn func(ppid.Variant)) Handle {
	return c.SubscribePayload(target, func(n Notification, payload []byte) {
		var dc dataChannelNotification
		if err := json.Unmarshal(n.Raw, &dc); err != nil {
			c.obs.Dropped(DropReasonParseError)
			return
		}
		v, err := ppid.Decode(dc.PPID, payload)
		if err != nil {
			c.obs.Dropped(DropReasonParseError)
			c.logger.Printf("payload channel: %v (ppid=%d, target=%s)", ErrBadPpid, dc.PPID, target)
			return
		}
		fn(v)
	})
}
