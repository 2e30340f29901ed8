package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"dm_chat/internal/errs"
	"dm_chat/internal/model"

	"github.com/google/uuid"
)

// MemoryRepo keeps users in process memory.
type MemoryRepo struct {
	mu         sync.RWMutex
	byID       map[string]*model.User
	byExternal map[string]string
}

var _ Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:       make(map[string]*model.User),
		byExternal: make(map[string]string),
	}
}

func (r *MemoryRepo) Upsert(_ context.Context, externalKey string, profile model.Profile) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	id, ok := r.byExternal[externalKey]
	if !ok {
		id = uuid.NewString()
		r.byExternal[externalKey] = id
		r.byID[id] = &model.User{
			ID:          id,
			ExternalKey: externalKey,
			CreatedAt:   now,
		}
	}

	u := r.byID[id]
	u.DisplayName = profile.DisplayName
	u.Email = profile.Email
	u.AvatarRef = profile.AvatarRef
	u.UpdatedAt = now

	c := *u
	return &c, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *MemoryRepo) GetByExternalKey(ctx context.Context, externalKey string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byExternal[externalKey]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepo) ListExcept(_ context.Context, excludeID string) ([]*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*model.User, 0, len(r.byID))
	for id, u := range r.byID {
		if id == excludeID {
			continue
		}
		c := *u
		users = append(users, &c)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName != users[j].DisplayName {
			return users[i].DisplayName < users[j].DisplayName
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}
