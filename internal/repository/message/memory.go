package message

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dm_chat/internal/model"
)

// MemoryRepo keeps one ascending slice per conversation.
type MemoryRepo struct {
	mu    sync.RWMutex
	convs map[string][]*model.Message
	maxID int64
}

var _ Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		convs: make(map[string][]*model.Message),
	}
}

func (r *MemoryRepo) Insert(_ context.Context, m *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.convs[m.ConversationKey]
	if n := len(log); n > 0 && log[n-1].LogicalTimestamp >= m.LogicalTimestamp {
		return fmt.Errorf("message %d at %s/%d is not after head %d",
			m.ID, m.ConversationKey, m.LogicalTimestamp, log[n-1].LogicalTimestamp)
	}
	r.convs[m.ConversationKey] = append(log, m.Clone())
	r.maxID = max(r.maxID, m.ID)
	return nil
}

func (r *MemoryRepo) List(_ context.Context, conversationKey string, after, upTo int64, limit int) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.convs[conversationKey]
	start := sort.Search(len(log), func(i int) bool {
		return log[i].LogicalTimestamp > after
	})

	res := []*model.Message{}
	for i := start; i < len(log) && len(res) < limit; i++ {
		if upTo > 0 && log[i].LogicalTimestamp > upTo {
			break
		}
		res = append(res, log[i].Clone())
	}
	return res, nil
}

func (r *MemoryRepo) Head(_ context.Context, conversationKey string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.convs[conversationKey]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].LogicalTimestamp, nil
}

func (r *MemoryRepo) Heads(_ context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	heads := make(map[string]int64, len(r.convs))
	for key, log := range r.convs {
		if len(log) > 0 {
			heads[key] = log[len(log)-1].LogicalTimestamp
		}
	}
	return heads, nil
}

func (r *MemoryRepo) MaxID(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxID, nil
}
