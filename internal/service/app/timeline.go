package app

import (
	"sort"
	"sync"

	"dm_chat/internal/model"
)

// Timeline is the client side view of one conversation. Pushes may repeat after a
// reconnect, so messages are keyed by id and kept in logical timestamp order.
type Timeline struct {
	mu     sync.Mutex
	seen   map[int64]struct{}
	msgs   []*model.Message
	cursor string
}

func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[int64]struct{})}
}

// Apply merges msgs and returns the ones not seen before, in timestamp order.
func (t *Timeline) Apply(msgs ...*model.Message) []*model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fresh []*model.Message
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if _, dup := t.seen[m.ID]; dup {
			continue
		}
		t.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return nil
	}

	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].LogicalTimestamp < fresh[j].LogicalTimestamp
	})
	t.msgs = append(t.msgs, fresh...)
	byTS := func(i, j int) bool {
		return t.msgs[i].LogicalTimestamp < t.msgs[j].LogicalTimestamp
	}
	if !sort.SliceIsSorted(t.msgs, byTS) {
		sort.SliceStable(t.msgs, byTS)
	}
	return fresh
}

// ApplyFrame merges a subscription frame and remembers its resume cursor.
func (t *Timeline) ApplyFrame(f *model.Frame) []*model.Message {
	var fresh []*model.Message
	switch f.Type {
	case model.FrameSnapshot:
		fresh = t.Apply(f.Messages...)
	case model.FrameMessage:
		fresh = t.Apply(f.Message)
	}

	if f.Cursor != "" {
		t.mu.Lock()
		t.cursor = f.Cursor
		t.mu.Unlock()
	}
	return fresh
}

// Cursor is where a resubscribe should resume from.
func (t *Timeline) Cursor() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

func (t *Timeline) Messages() []*model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*model.Message(nil), t.msgs...)
}
