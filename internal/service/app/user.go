package app

import (
	"context"
	"fmt"
	"strings"

	"dm_chat/internal/model"
)

func (c *App) syncUser(ctx context.Context, name string) error {
	id, err := c.resolveIdentity(ctx, model.Profile{DisplayName: name})
	if err != nil {
		return err
	}
	c.userID = id
	c.userName = name
	return nil
}

// findPeer looks a recipient up by display name, falling back to user id.
func (c *App) findPeer(ctx context.Context, name string) (*model.User, error) {
	users, err := c.listUsers(ctx)
	if err != nil {
		return nil, err
	}

	for _, u := range users {
		if strings.EqualFold(u.DisplayName, name) || u.ID == name {
			return u, nil
		}
	}
	return nil, fmt.Errorf("no user named %q, ask them to sign in first", name)
}
