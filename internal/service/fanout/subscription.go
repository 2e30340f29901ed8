package fanout

import (
	"context"
	"errors"
	"sync"

	"dm_chat/internal/model"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("subscription closed")

type Subscription struct {
	ID              string
	SubscriberID    string
	ConversationKey string

	hub   *Hub
	queue chan *model.Message
	done  chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error

	// only touched by the consuming goroutine
	lastDelivered int64
}

// Next blocks until the next live message, the context ends, or the subscription stops.
// Messages come out in logical timestamp order and never at or below LastDelivered.
func (s *Subscription) Next(ctx context.Context) (*model.Message, error) {
	for {
		select {
		case <-s.done:
			return nil, s.Err()
		default:
		}

		select {
		case m := <-s.queue:
			if m.LogicalTimestamp <= s.lastDelivered {
				continue
			}
			s.lastDelivered = m.LogicalTimestamp
			return m, nil
		case <-s.done:
			return nil, s.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Subscription) LastDelivered() int64 {
	return s.lastDelivered
}

// Done is closed once the subscription stops for any reason.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is nil while the subscription is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.stop(ErrClosed)
}

func (s *Subscription) stop(reason error) bool {
	stopped := false
	s.once.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.done)
		s.hub.remove(s)
		stopped = true
	})
	return stopped
}
