package channel

import (
	"log"
	"sync"
)

// NotifyFunc receives a decoded notification for the target id it was
// registered against.
type NotifyFunc func(Notification)

// PayloadNotifyFunc receives a decoded notification paired with its trailing
// binary payload, for payload-lane subscriptions.
type PayloadNotifyFunc func(Notification, []byte)

// Handle is returned by Subscribe; calling Unsubscribe removes the callback.
// A Handle is safe to call Unsubscribe on more than once.
type Handle struct {
	unsub func()
}

// Unsubscribe removes the callback this handle was issued for. It is a
// no-op if already called.
func (h Handle) Unsubscribe() {
	if h.unsub != nil {
		h.unsub()
	}
}

type subscriberEntry struct {
	id      uint64
	fn      NotifyFunc
	payload PayloadNotifyFunc
}

// subscriptions maps target id to an ordered list of callbacks. Insertion
// order is delivery order; removal never reorders survivors.
type subscriptions struct {
	mu       sync.Mutex
	nextID   uint64
	byTarget map[string][]*subscriberEntry
	logger   *log.Logger
}

func newSubscriptions(logger *log.Logger) *subscriptions {
	return &subscriptions{byTarget: make(map[string][]*subscriberEntry), logger: logger}
}

func (s *subscriptions) add(target string, entry *subscriberEntry) Handle {
	s.mu.Lock()
	entry.id = s.nextID
	s.nextID++
	s.byTarget[target] = append(s.byTarget[target], entry)
	s.mu.Unlock()

	return Handle{unsub: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.byTarget[target]
		for i, e := range list {
			if e == entry {
				s.byTarget[target] = append(list[:i], list[i+1:]...)
				if len(s.byTarget[target]) == 0 {
					delete(s.byTarget, target)
				}
				return
			}
		}
	}}
}

// Subscribe registers fn for notifications addressed to target, control lane.
func (s *subscriptions) Subscribe(target string, fn NotifyFunc) Handle {
	return s.add(target, &subscriberEntry{fn: fn})
}

// SubscribePayload registers fn for notifications addressed to target,
// payload lane.
func (s *subscriptions) SubscribePayload(target string, fn PayloadNotifyFunc) Handle {
	return s.add(target, &subscriberEntry{payload: fn})
}

func (s *subscriptions) snapshot(target string) []*subscriberEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byTarget[target]
	if len(list) == 0 {
		return nil
	}
	out := make([]*subscriberEntry, len(list))
	copy(out, list)
	return out
}

// dispatch invokes every callback registered for n.TargetID, in insertion
// order, recovering from and logging any panic so one bad subscriber cannot
// take down the dispatch goroutine. It reports whether any subscriber existed.
func (s *subscriptions) dispatch(n Notification) bool {
	entries := s.snapshot(n.TargetID)
	for _, e := range entries {
		if e.fn == nil {
			continue
		}
		s.invoke(func() { e.fn(n) })
	}
	return len(entries) > 0
}

// dispatchPayload is dispatch's payload-lane counterpart: it delivers the
// notification/payload pair atomically to every registered callback.
func (s *subscriptions) dispatchPayload(n Notification, payload []byte) bool {
	entries := s.snapshot(n.TargetID)
	for _, e := range entries {
		if e.payload == nil {
			continue
		}
		s.invoke(func() { e.payload(n, payload) })
	}
	return len(entries) > 0
}

func (s *subscriptions) invoke(call func()) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Printf("channel: subscriber panic: %v", r)
		}
	}()
	call()
}
