package channel

import "encoding/json"

// LogLevel classifies a control-lane log line by its first wire byte.
type LogLevel byte

const (
	LogDebug LogLevel = 'D'
	LogWarn  LogLevel = 'W'
	LogError LogLevel = 'E'
	LogDump  LogLevel = 'X'
)

// Kind discriminates a decoded control-lane record.
type Kind int

const (
	KindResponse Kind = iota
	KindNotification
	KindLog
	KindUnexpected
)

// Response is a worker reply to a previously issued request.
type Response struct {
	ID       uint32
	Accepted bool
	Data     json.RawMessage // Present on success; defaults to "{}" when absent or null.
	Reason   string          // Present on failure.
	Error    json.RawMessage // Opaque worker-defined error value; only Reason is surfaced to callers.
}

// Notification is a fire-and-forget event keyed by target id.
type Notification struct {
	TargetID string
	Raw      json.RawMessage // Full decoded body, including targetId.
}

// Log is one control-lane log line.
type Log struct {
	Level LogLevel
	Text  string
}

// Unexpected is any record the reader could not classify as response,
// notification, or log.
type Unexpected struct {
	Command byte
	Data    []byte
}

// Message is the decoded form of one control-lane record.
type Message struct {
	Kind         Kind
	Response     Response
	Notification Notification
	Log          Log
	Unexpected   Unexpected
}

// jsonEnvelope is the superset of fields a typed JSON record may carry; a
// given record populates either the response fields or the notification
// fields, never both.
type jsonEnvelope struct {
	ID       *uint32         `json:"id,omitempty"`
	Accepted bool            `json:"accepted,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
}

// decodeMessage classifies one control-lane record by its first byte and,
// for JSON records, by the presence of an id: a record with an id is a
// response, and every other JSON record is a notification keyed by its
// targetId (empty when the record has none); such records are not reported
// as Unexpected.
func decodeMessage(body []byte) (Message, error) {
	if len(body) == 0 {
		return Message{Kind: KindUnexpected, Unexpected: Unexpected{Data: body}}, nil
	}

	switch body[0] {
	case '{':
		var env jsonEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return Message{}, ParseError(err)
		}
		if env.ID != nil {
			data := env.Data
			if len(data) == 0 || string(data) == "null" {
				data = json.RawMessage("{}")
			}
			return Message{Kind: KindResponse, Response: Response{
				ID:       *env.ID,
				Accepted: env.Accepted,
				Data:     data,
				Reason:   env.Reason,
				Error:    env.Error,
			}}, nil
		}
		return Message{Kind: KindNotification, Notification: Notification{
			TargetID: env.TargetID,
			Raw:      append(json.RawMessage(nil), body...),
		}}, nil
	case byte(LogDebug), byte(LogWarn), byte(LogError), byte(LogDump):
		return Message{Kind: KindLog, Log: Log{
			Level: LogLevel(body[0]),
			Text:  string(body[1:]),
		}}, nil
	default:
		return Message{Kind: KindUnexpected, Unexpected: Unexpected{
			Command: body[0],
			Data:    append([]byte(nil), body[1:]...),
		}}, nil
	}
}

// encodeRequest serializes a request record as `{"id":.., "method":.., <body fields>}`,
// flattening body's own JSON object fields alongside id and method.
func encodeRequest(id uint32, method string, body any) ([]byte, error) {
	return mergeEnvelope(map[string]any{"id": id, "method": method}, body)
}

// encodeNotify serializes an outbound (host->worker) notification as
// `{"event":.., <body fields>}`.
func encodeNotify(event string, body any) ([]byte, error) {
	return mergeEnvelope(map[string]any{"event": event}, body)
}

// mergeEnvelope flattens body's top-level JSON object fields into head and
// marshals the result. body may be nil, in which case head alone is emitted.
func mergeEnvelope(head map[string]any, body any) ([]byte, error) {
	if body == nil {
		return json.Marshal(head)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(fields)+len(head))
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range head {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return json.Marshal(out)
}
