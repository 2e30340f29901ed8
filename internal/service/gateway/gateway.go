// Package gateway exposes the chat operations to transports: identity sync, send,
// list and subscribe. Every call carries the caller's verified external identity key.
package gateway

import (
	"context"
	"errors"

	"dm_chat/internal/model"
	"dm_chat/internal/repository/user"
	"dm_chat/internal/service/fanout"
	"dm_chat/internal/service/identity"
	"dm_chat/internal/service/store"
	"dm_chat/internal/utils/log"

	"go.uber.org/zap"
)

type Gateway struct {
	identity *identity.Resolver
	users    user.Repository
	store    *store.Store
	hub      *fanout.Hub
}

func New(resolver *identity.Resolver, users user.Repository, st *store.Store, hub *fanout.Hub) *Gateway {
	return &Gateway{
		identity: resolver,
		users:    users,
		store:    st,
		hub:      hub,
	}
}

// ResolveIdentity syncs the caller's profile and returns their user id.
func (g *Gateway) ResolveIdentity(ctx context.Context, externalKey string, profile model.Profile) (string, error) {
	return g.identity.Upsert(ctx, externalKey, profile)
}

func (g *Gateway) CurrentUser(ctx context.Context, callerKey string) (*model.User, error) {
	me, err := g.identity.Resolve(ctx, callerKey)
	if err != nil {
		return nil, err
	}
	return g.users.GetByID(ctx, me)
}

func (g *Gateway) ListOtherUsers(ctx context.Context, callerKey string) ([]*model.User, error) {
	me, err := g.identity.Resolve(ctx, callerKey)
	if err != nil {
		return nil, err
	}
	return g.users.ListExcept(ctx, me)
}

// SendMessage persists the message and returns it once it is durable. Live
// subscribers are notified through their own queues.
func (g *Gateway) SendMessage(ctx context.Context, callerKey, receiverID, body string) (*model.Message, error) {
	me, err := g.identity.Resolve(ctx, callerKey)
	if err != nil {
		return nil, err
	}

	m, err := g.store.Append(ctx, me, receiverID, body, g.hub.Publish)
	if err != nil {
		return nil, err
	}
	log.Debug("message appended",
		zap.Int64("id", m.ID),
		zap.String("conversation", m.ConversationKey),
		zap.Int64("logical_ts", m.LogicalTimestamp))
	return m, nil
}

func (g *Gateway) ListConversation(ctx context.Context, callerKey, otherID, cursor string, limit int) (*model.Page, error) {
	me, err := g.identity.Resolve(ctx, callerKey)
	if err != nil {
		return nil, err
	}
	return g.store.List(ctx, me, otherID, cursor, limit)
}

// SubscribeConversation streams the conversation to emit: snapshot frames up to a read
// point, a live marker, then every message committed after the read point. It returns
// nil when ctx ends, errs.ErrOverloaded when the subscriber falls behind, or the first
// emit error.
func (g *Gateway) SubscribeConversation(ctx context.Context, callerKey, otherID, cursor string, emit func(*model.Frame) error) error {
	me, err := g.identity.Resolve(ctx, callerKey)
	if err != nil {
		return err
	}

	key := model.NewConversationKey(me, otherID)
	cursors := g.store.Cursors()
	after, err := cursors.Decode(key.String(), cursor)
	if err != nil {
		return err
	}

	var (
		sub  *fanout.Subscription
		head int64
	)
	err = g.store.Pin(ctx, me, otherID, func(h int64) {
		head = h
		sub = g.hub.Subscribe(key.String(), me, max(h, after))
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	sent := false
	err = g.store.Snapshot(ctx, key, after, head, func(batch []*model.Message) error {
		sent = true
		return emit(&model.Frame{
			Type:     model.FrameSnapshot,
			Messages: batch,
			Cursor:   cursors.Encode(key.String(), batch[len(batch)-1].LogicalTimestamp),
		})
	})
	if err != nil {
		return err
	}
	if !sent {
		if err := emit(&model.Frame{Type: model.FrameSnapshot, Messages: []*model.Message{}}); err != nil {
			return err
		}
	}

	if err := emit(&model.Frame{Type: model.FrameLive, Cursor: cursors.Encode(key.String(), max(head, after))}); err != nil {
		return err
	}

	for {
		m, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, fanout.ErrClosed) {
				return nil
			}
			return err
		}
		if err := emit(&model.Frame{
			Type:    model.FrameMessage,
			Message: m,
			Cursor:  cursors.Encode(key.String(), m.LogicalTimestamp),
		}); err != nil {
			return err
		}
	}
}
