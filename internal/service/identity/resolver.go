// Package identity maps verified provider identities to internal user ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dm_chat/internal/errs"
	"dm_chat/internal/model"
	"dm_chat/internal/repository/user"
	"dm_chat/internal/utils/log"

	"go.uber.org/zap"
)

const maxKeyLen = 256

type Resolver struct {
	users user.Repository
	cache Cache
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(users user.Repository, cache Cache) *Resolver {
	return &Resolver{users: users, cache: cache}
}

// Upsert creates or refreshes the user behind externalKey and returns its stable id.
func (r *Resolver) Upsert(ctx context.Context, externalKey string, profile model.Profile) (string, error) {
	if err := validateKey(externalKey); err != nil {
		return "", err
	}

	u, err := r.users.Upsert(ctx, externalKey, profile.WithDefaults())
	if err != nil {
		return "", err
	}
	r.remember(ctx, externalKey, u.ID)
	return u.ID, nil
}

// Resolve returns the user id for an already synced identity.
func (r *Resolver) Resolve(ctx context.Context, externalKey string) (string, error) {
	if strings.TrimSpace(externalKey) == "" {
		return "", fmt.Errorf("%w: empty identity", errs.ErrUnauthenticated)
	}

	if r.cache != nil {
		id, ok, err := r.cache.Get(ctx, externalKey)
		if err != nil {
			log.Warn("identity cache get failed", zap.Error(err))
		} else if ok {
			return id, nil
		}
	}

	u, err := r.users.GetByExternalKey(ctx, externalKey)
	if errors.Is(err, errs.ErrNotFound) {
		return "", fmt.Errorf("%w: identity not synced", errs.ErrUnauthenticated)
	}
	if err != nil {
		return "", err
	}
	r.remember(ctx, externalKey, u.ID)
	return u.ID, nil
}

func (r *Resolver) remember(ctx context.Context, externalKey, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, externalKey, id); err != nil {
		log.Warn("identity cache set failed", zap.Error(err))
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty external identity key", errs.ErrInvalidIdentity)
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("%w: external identity key longer than %d bytes", errs.ErrInvalidIdentity, maxKeyLen)
	}
	return nil
}
