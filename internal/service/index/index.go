// Package index tracks, per conversation, the append lock and the last committed logical timestamp.
// It holds no message data and can be rebuilt from the message log at any time.
package index

import (
	"context"
	"sync"
)

// HeadSource is the part of the message log the index is rebuilt from.
type HeadSource interface {
	Head(ctx context.Context, conversationKey string) (int64, error)
	Heads(ctx context.Context) (map[string]int64, error)
}

type (
	Index struct {
		source HeadSource

		mu       sync.Mutex
		segments map[string]*Segment
	}

	// Segment is one conversation. Holding it serializes appends and subscription
	// registration for that conversation only.
	Segment struct {
		key    string
		sem    chan struct{}
		loaded bool
		head   int64
	}
)

func New(source HeadSource) *Index {
	return &Index{
		source:   source,
		segments: make(map[string]*Segment),
	}
}

func (ix *Index) segment(key string) *Segment {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	s, ok := ix.segments[key]
	if !ok {
		s = &Segment{key: key, sem: make(chan struct{}, 1)}
		ix.segments[key] = s
	}
	return s
}

// Acquire locks the conversation's segment, loading its head from the log on first use.
// The caller must Release it.
func (ix *Index) Acquire(ctx context.Context, key string) (*Segment, error) {
	s := ix.segment(key)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !s.loaded {
		head, err := ix.source.Head(ctx, key)
		if err != nil {
			s.Release()
			return nil, err
		}
		s.head = head
		s.loaded = true
	}
	return s, nil
}

// Rebuild loads every conversation head from the log.
func (ix *Index) Rebuild(ctx context.Context) error {
	heads, err := ix.source.Heads(ctx)
	if err != nil {
		return err
	}

	for key, head := range heads {
		s := ix.segment(key)
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !s.loaded || head > s.head {
			s.head = head
		}
		s.loaded = true
		s.Release()
	}
	return nil
}

// Len reports how many conversations the index knows about.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.segments)
}

func (s *Segment) Key() string {
	return s.key
}

// Head is the last committed logical timestamp. Only valid while the segment is held.
func (s *Segment) Head() int64 {
	return s.head
}

// Next is the timestamp the next append will get.
func (s *Segment) Next() int64 {
	return s.head + 1
}

// Commit records ts as durably stored.
func (s *Segment) Commit(ts int64) {
	if ts > s.head {
		s.head = ts
	}
}

// Invalidate drops the cached head so the next Acquire reloads it from the log.
// Used when a write's outcome is unknown.
func (s *Segment) Invalidate() {
	s.loaded = false
}

func (s *Segment) Release() {
	<-s.sem
}
