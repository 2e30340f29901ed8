// Package fanout pushes committed messages to the live subscribers of a conversation.
package fanout

import (
	"sync"

	"dm_chat/internal/errs"
	"dm_chat/internal/model"
	"dm_chat/internal/service/metrics"
	"dm_chat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Hub struct {
	capacity int
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	convs map[string]map[string]*Subscription
}

func NewHub(capacity int, m *metrics.Metrics) *Hub {
	return &Hub{
		capacity: capacity,
		metrics:  m,
		convs:    make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a subscriber on a conversation. readPoint is the last logical
// timestamp the subscriber already has (from its snapshot); nothing at or below it is pushed.
// Callers register while the conversation is pinned so no commit falls between the
// snapshot and the registration.
func (h *Hub) Subscribe(conversationKey, subscriberID string, readPoint int64) *Subscription {
	s := &Subscription{
		ID:              uuid.NewString(),
		SubscriberID:    subscriberID,
		ConversationKey: conversationKey,
		hub:             h,
		queue:           make(chan *model.Message, h.capacity),
		done:            make(chan struct{}),
		lastDelivered:   readPoint,
	}

	h.mu.Lock()
	subs, ok := h.convs[conversationKey]
	if !ok {
		subs = make(map[string]*Subscription)
		h.convs[conversationKey] = subs
	}
	subs[s.ID] = s
	h.mu.Unlock()

	h.metrics.ActiveSubscriptions.Inc()
	log.Debug("subscription opened",
		zap.String("subscription", s.ID),
		zap.String("subscriber", subscriberID),
		zap.String("conversation", conversationKey))
	return s
}

// Publish enqueues m for every subscriber of its conversation. It never blocks:
// a subscriber whose queue is full is dropped with errs.ErrOverloaded.
func (h *Hub) Publish(m *model.Message) {
	key := m.ConversationKey
	if key == "" {
		key = m.Key().String()
	}

	var overflowed []*Subscription

	h.mu.RLock()
	for _, s := range h.convs[key] {
		select {
		case s.queue <- m:
			h.metrics.Delivered.Inc()
		default:
			overflowed = append(overflowed, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range overflowed {
		log.Warn("subscriber queue overflow, dropping",
			zap.String("subscription", s.ID),
			zap.String("subscriber", s.SubscriberID),
			zap.Int("capacity", h.capacity))
		if s.stop(errs.ErrOverloaded) {
			h.metrics.SubscribersDropped.Inc()
		}
	}
}

// Count returns the number of live subscriptions on a conversation.
func (h *Hub) Count(conversationKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.convs[conversationKey])
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if subs, ok := h.convs[s.ConversationKey]; ok {
		delete(subs, s.ID)
		if len(subs) == 0 {
			delete(h.convs, s.ConversationKey)
		}
	}
	h.mu.Unlock()

	h.metrics.ActiveSubscriptions.Dec()
}
