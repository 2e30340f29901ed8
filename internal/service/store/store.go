// Package store is the message store: validated, ordered appends and conversation reads.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"dm_chat/internal/errs"
	"dm_chat/internal/model"
	"dm_chat/internal/repository/message"
	"dm_chat/internal/service/index"
	"dm_chat/internal/service/metrics"
	"dm_chat/internal/service/sequence"
	"dm_chat/internal/utils/log"

	"go.uber.org/zap"
)

const persistTimeout = 10 * time.Second

type (
	UserLookup interface {
		GetByID(ctx context.Context, id string) (*model.User, error)
	}

	Options struct {
		MaxBodyLen  int
		PageSize    int
		MaxPageSize int
	}

	Store struct {
		users   UserLookup
		log     message.Repository
		index   *index.Index
		ids     sequence.Generator
		cursors *CursorCodec
		metrics *metrics.Metrics
		opts    Options
		now     func() time.Time
	}
)

func New(users UserLookup, messages message.Repository, ix *index.Index, ids sequence.Generator,
	cursors *CursorCodec, m *metrics.Metrics, opts Options) *Store {
	return &Store{
		users:   users,
		log:     messages,
		index:   ix,
		ids:     ids,
		cursors: cursors,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

func (s *Store) Cursors() *CursorCodec {
	return s.cursors
}

// Append stores a new message with the next logical timestamp of its conversation.
// onCommit, when set, runs after the message is persisted and before the conversation
// is released, so it observes commits in timestamp order. It must not block.
func (s *Store) Append(ctx context.Context, senderID, receiverID, body string, onCommit func(*model.Message)) (*model.Message, error) {
	m, err := s.append(ctx, senderID, receiverID, body, onCommit)
	if err != nil {
		s.metrics.AppendFailures.Inc()
		return nil, err
	}
	s.metrics.MessagesAppended.Inc()
	return m, nil
}

func (s *Store) append(ctx context.Context, senderID, receiverID, body string, onCommit func(*model.Message)) (*model.Message, error) {
	if err := s.validate(senderID, receiverID, body); err != nil {
		return nil, err
	}
	if err := s.ensureUsers(ctx, senderID, receiverID); err != nil {
		return nil, err
	}

	key := model.NewConversationKey(senderID, receiverID).String()
	seg, err := s.index.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer seg.Release()

	id, err := s.ids.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("assign message id: %w", err)
	}

	m := &model.Message{
		ID:               id,
		ConversationKey:  key,
		SenderID:         senderID,
		ReceiverID:       receiverID,
		Body:             body,
		LogicalTimestamp: seg.Next(),
		CreatedAt:        s.now().UTC(),
	}
	if err := s.persist(ctx, seg, m); err != nil {
		return nil, err
	}
	seg.Commit(m.LogicalTimestamp)

	if onCommit != nil {
		onCommit(m.Clone())
	}
	return m, nil
}

// persist writes m with a context detached from the caller: an accepted append is not
// cancelled. When Insert fails the log is asked whether the write landed anyway; if
// that cannot be told, the segment is invalidated so its head is reloaded.
func (s *Store) persist(ctx context.Context, seg *index.Segment, m *model.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := s.log.Insert(ctx, m)
	if err == nil {
		return nil
	}

	head, headErr := s.log.Head(ctx, m.ConversationKey)
	switch {
	case headErr != nil:
		seg.Invalidate()
		log.Warn("message outcome unknown, reloading conversation head",
			zap.String("conversation", m.ConversationKey),
			zap.Int64("logical_ts", m.LogicalTimestamp),
			zap.Error(err),
			zap.NamedError("head_error", headErr))
	case head >= m.LogicalTimestamp:
		log.Warn("insert reported an error but the message is stored",
			zap.Int64("id", m.ID),
			zap.String("conversation", m.ConversationKey),
			zap.Error(err))
		return nil
	}
	return fmt.Errorf("persist message: %w", err)
}

func (s *Store) validate(senderID, receiverID, body string) error {
	if senderID == "" || receiverID == "" {
		return fmt.Errorf("%w: sender and receiver are required", errs.ErrValidation)
	}
	if senderID == receiverID {
		return fmt.Errorf("%w: cannot send a message to yourself", errs.ErrValidation)
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty body", errs.ErrValidation)
	}
	if n := utf8.RuneCountInString(body); n > s.opts.MaxBodyLen {
		return fmt.Errorf("%w: body has %d characters, limit is %d", errs.ErrValidation, n, s.opts.MaxBodyLen)
	}
	return nil
}

func (s *Store) ensureUsers(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fmt.Errorf("%w: user %s", errs.ErrNotFound, id)
			}
			return err
		}
	}
	return nil
}

// List returns one page of the conversation between userA and userB, oldest first.
// The result is the same whichever participant asks.
func (s *Store) List(ctx context.Context, userA, userB, cursor string, limit int) (*model.Page, error) {
	if userA == userB {
		return nil, fmt.Errorf("%w: a conversation needs two different users", errs.ErrValidation)
	}
	if err := s.ensureUsers(ctx, userA, userB); err != nil {
		return nil, err
	}

	key := model.NewConversationKey(userA, userB).String()
	after, err := s.cursors.Decode(key, cursor)
	if err != nil {
		return nil, err
	}

	limit = s.clamp(limit)
	msgs, err := s.log.List(ctx, key, after, 0, limit+1)
	if err != nil {
		return nil, err
	}

	page := &model.Page{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.NextCursor = s.cursors.Encode(key, page.Messages[limit-1].LogicalTimestamp)
	}
	return page, nil
}

// Pin holds the conversation while fn runs and hands it the last committed timestamp.
// No append to the conversation can commit while fn runs.
func (s *Store) Pin(ctx context.Context, userA, userB string, fn func(head int64)) error {
	if userA == userB {
		return fmt.Errorf("%w: a conversation needs two different users", errs.ErrValidation)
	}
	if err := s.ensureUsers(ctx, userA, userB); err != nil {
		return err
	}

	seg, err := s.index.Acquire(ctx, model.NewConversationKey(userA, userB).String())
	if err != nil {
		return err
	}
	defer seg.Release()

	fn(seg.Head())
	return nil
}

// Snapshot emits the messages with after < logical_ts <= head in page sized batches.
func (s *Store) Snapshot(ctx context.Context, key model.ConversationKey, after, head int64, emit func([]*model.Message) error) error {
	for after < head {
		batch, err := s.log.List(ctx, key.String(), after, head, s.opts.PageSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := emit(batch); err != nil {
			return err
		}
		after = batch[len(batch)-1].LogicalTimestamp
	}
	return nil
}

func (s *Store) clamp(limit int) int {
	if limit <= 0 {
		return s.opts.PageSize
	}
	if limit > s.opts.MaxPageSize {
		return s.opts.MaxPageSize
	}
	return limit
}
