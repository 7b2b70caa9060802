package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sfuctl/workerchannel/netstring"
)

type fakePayloadWorker struct {
	r *bufio.Reader
	w io.Writer
}

func newTestPayloadChannel(t *testing.T, opts ...Option) (*PayloadChannel, *fakePayloadWorker) {
	t.Helper()
	hostWriteR, hostWriteW := io.Pipe()
	workerWriteR, workerWriteW := io.Pipe()

	ch := NewPayload(workerWriteR, hostWriteW, opts...)
	fw := &fakePayloadWorker{r: bufio.NewReader(hostWriteR), w: workerWriteW}
	t.Cleanup(func() { ch.Close() })
	return ch, fw
}

func (fw *fakePayloadWorker) readFrame(t *testing.T) []byte {
	t.Helper()
	var buf []byte
	n, err := netstring.ReadFrame(fw.r, &buf, 0)
	if err != nil {
		t.Fatalf("fakePayloadWorker read: %v", err)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

func (fw *fakePayloadWorker) writeFrame(t *testing.T, body []byte) {
	t.Helper()
	if err := netstring.WriteFrame(fw.w, body, 0); err != nil {
		t.Fatalf("fakePayloadWorker write: %v", err)
	}
}

func TestPayloadChannelNotificationPairing(t *testing.T) {
	ch, fw := newTestPayloadChannel(t)

	type delivery struct {
		n       Notification
		payload []byte
	}
	received := make(chan delivery, 1)
	ch.SubscribePayload("P9", func(n Notification, payload []byte) {
		received <- delivery{n, payload}
	})

	body, _ := json.Marshal(map[string]any{"targetId": "P9", "event": "message", "ppid": 51})
	fw.writeFrame(t, body)
	fw.writeFrame(t, []byte("hello"))

	select {
	case d := <-received:
		if d.n.TargetID != "P9" {
			t.Fatalf("targetId = %q, want P9", d.n.TargetID)
		}
		if string(d.payload) != "hello" {
			t.Fatalf("payload = %q, want hello", d.payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for paired delivery")
	}
}

func TestPayloadChannelRequestWithPayload(t *testing.T) {
	ch, fw := newTestPayloadChannel(t)

	done := make(chan json.RawMessage, 1)
	go func() {
		data, err := ch.Request(context.Background(), "transport.send", nil, []byte("payload-bytes"))
		if err != nil {
			t.Errorf("Request err: %v", err)
		}
		done <- data
	}()

	req := fw.readFrame(t)
	var m map[string]any
	if err := json.Unmarshal(req, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload := fw.readFrame(t)
	if string(payload) != "payload-bytes" {
		t.Fatalf("payload = %q, want payload-bytes", payload)
	}

	id := uint32(m["id"].(float64))
	resp, _ := json.Marshal(map[string]any{"id": id, "accepted": true, "data": map[string]any{}})
	fw.writeFrame(t, resp)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Request to return")
	}
}

func TestPayloadChannelUnknownSubscriberDropped(t *testing.T) {
	ch, fw := newTestPayloadChannel(t)

	// No subscriber for "missing"; the pair should be read and dropped
	// without blocking the reader loop for a subsequent, subscribed target.
	body, _ := json.Marshal(map[string]any{"targetId": "missing", "event": "message"})
	fw.writeFrame(t, body)
	fw.writeFrame(t, []byte("x"))

	barrier := make(chan struct{}, 1)
	ch.SubscribePayload("P1", func(Notification, []byte) { barrier <- struct{}{} })
	body2, _ := json.Marshal(map[string]any{"targetId": "P1", "event": "message"})
	fw.writeFrame(t, body2)
	fw.writeFrame(t, []byte("y"))

	select {
	case <-barrier:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subsequent delivery")
	}
}

func TestPayloadChannelCloseFailsPending(t *testing.T) {
	ch, fw := newTestPayloadChannel(t)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Request(context.Background(), "transport.send", nil, nil)
		done <- err
	}()
	fw.readFrame(t)

	ch.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrChannelClosed) {
			t.Fatalf("err = %v, want ErrChannelClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
