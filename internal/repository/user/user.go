// Package user stores the users synced from the identity provider.
package user

import (
	"context"

	"dm_chat/internal/model"
)

type Repository interface {
	// Upsert creates the user for externalKey or refreshes its profile. The id never changes.
	Upsert(ctx context.Context, externalKey string, profile model.Profile) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByExternalKey(ctx context.Context, externalKey string) (*model.User, error)
	// ListExcept returns every user but excludeID ordered by display name.
	ListExcept(ctx context.Context, excludeID string) ([]*model.User, error)
}
