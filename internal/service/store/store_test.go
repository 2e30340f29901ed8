package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"dm_chat/internal/errs"
	"dm_chat/internal/model"
	"dm_chat/internal/repository/message"
	"dm_chat/internal/repository/user"
	"dm_chat/internal/service/index"
	"dm_chat/internal/service/metrics"
	"dm_chat/internal/service/sequence"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *Store
	log     message.Repository
	users   *user.MemoryRepo
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, log message.Repository) *fixture {
	t.Helper()
	if log == nil {
		log = message.NewMemoryRepo()
	}
	users := user.NewMemoryRepo()
	cursors, err := NewCursorCodec([]byte("test-secret"))
	require.NoError(t, err)
	m := metrics.NewNop()

	s := New(users, log, index.New(log), sequence.NewMemory(0), cursors, m, Options{
		MaxBodyLen:  20,
		PageSize:    3,
		MaxPageSize: 10,
	})
	return &fixture{store: s, log: log, users: users, metrics: m}
}

func (f *fixture) user(t *testing.T, name string) string {
	t.Helper()
	u, err := f.users.Upsert(context.Background(), "ext-"+name, model.Profile{DisplayName: name})
	require.NoError(t, err)
	return u.ID
}

func bodies(p *model.Page) []string {
	res := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		res = append(res, m.Body)
	}
	return res
}

func TestStore_TwoWayScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u1, u2 := f.user(t, "a"), f.user(t, "b")

	hi, err := f.store.Append(ctx, u1, u2, "hi", nil)
	require.NoError(t, err)
	require.Equal(t, u1, hi.SenderID)
	require.Equal(t, u2, hi.ReceiverID)
	require.Equal(t, int64(1), hi.LogicalTimestamp)

	hello, err := f.store.Append(ctx, u2, u1, "hello", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), hello.LogicalTimestamp)
	require.Greater(t, hello.ID, hi.ID)

	fromA, err := f.store.List(ctx, u1, u2, "", 0)
	require.NoError(t, err)
	fromB, err := f.store.List(ctx, u2, u1, "", 0)
	require.NoError(t, err)

	require.Equal(t, []string{"hi", "hello"}, bodies(fromA))
	require.Equal(t, fromA, fromB)
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MessagesAppended))
}

func TestStore_AppendLandsAtTailExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")

	for i := 0; i < 4; i++ {
		_, err := f.store.Append(ctx, a, b, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}
	m, err := f.store.Append(ctx, b, a, "last", nil)
	require.NoError(t, err)

	page, err := f.store.List(ctx, a, b, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 5)
	tail := page.Messages[len(page.Messages)-1]
	require.Equal(t, m.ID, tail.ID)
	for _, prev := range page.Messages[:4] {
		require.Less(t, prev.LogicalTimestamp, tail.LogicalTimestamp)
		require.NotEqual(t, m.ID, prev.ID)
	}
}

func TestStore_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")

	cases := []struct {
		name     string
		from, to string
		body     string
	}{
		{"self send", a, a, "hi"},
		{"empty body", a, b, ""},
		{"blank body", a, b, "  \n\t"},
		{"too long", a, b, strings.Repeat("x", 21)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.store.Append(ctx, tc.from, tc.to, tc.body, nil)
			require.ErrorIs(t, err, errs.ErrValidation)
		})
	}

	// Exactly at the limit, counted in characters.
	_, err := f.store.Append(ctx, a, b, strings.Repeat("é", 20), nil)
	require.NoError(t, err)

	page, err := f.store.List(ctx, a, b, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	self, err := f.log.List(ctx, model.NewConversationKey(a, a).String(), 0, 0, 10)
	require.NoError(t, err)
	require.Empty(t, self)
	require.Equal(t, float64(len(cases)), testutil.ToFloat64(f.metrics.AppendFailures))
}

func TestStore_UnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.user(t, "a")

	_, err := f.store.Append(ctx, a, "ghost", "hi", nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.store.Append(ctx, "ghost", a, "hi", nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.store.List(ctx, a, "ghost", "", 0)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_TimestampsArePerConversation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")

	ab, err := f.store.Append(ctx, a, b, "x", nil)
	require.NoError(t, err)
	ac, err := f.store.Append(ctx, a, c, "y", nil)
	require.NoError(t, err)

	require.Equal(t, int64(1), ab.LogicalTimestamp)
	require.Equal(t, int64(1), ac.LogicalTimestamp)
	require.NotEqual(t, ab.ID, ac.ID)
}

func TestStore_ConcurrentAppendsNeverCollide(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			_, err := f.store.Append(ctx, from, to, fmt.Sprintf("m%d", i), nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := f.log.List(ctx, model.NewConversationKey(a, b).String(), 0, 0, 100)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.LogicalTimestamp)
	}
	require.True(t, sort.SliceIsSorted(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID }))
}

func TestStore_OnCommitSeesTimestampOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")

	var (
		mu   sync.Mutex
		seen []int64
		wg   sync.WaitGroup
	)
	record := func(m *model.Message) {
		mu.Lock()
		seen = append(seen, m.LogicalTimestamp)
		mu.Unlock()
	}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.Append(ctx, a, b, "x", record)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, seen, 30)
	for i, ts := range seen {
		require.Equal(t, int64(i+1), ts)
	}
}

type failingLog struct {
	message.Repository
	fail bool
}

func (l *failingLog) Insert(ctx context.Context, m *model.Message) error {
	if l.fail {
		return errors.New("disk full")
	}
	return l.Repository.Insert(ctx, m)
}

func TestStore_FailedPersistDoesNotCommit(t *testing.T) {
	log := &failingLog{Repository: message.NewMemoryRepo(), fail: true}
	f := newFixture(t, log)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")

	called := false
	_, err := f.store.Append(ctx, a, b, "lost", func(*model.Message) { called = true })
	require.Error(t, err)
	require.False(t, called)

	log.fail = false
	m, err := f.store.Append(ctx, a, b, "kept", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), m.LogicalTimestamp)

	page, err := f.store.List(ctx, a, b, "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, bodies(page))
}

// landedLog stores the message but still reports the insert as failed, like a write
// whose acknowledgement was lost. With headFails set the head lookup fails too.
type landedLog struct {
	message.Repository
	failNext  bool
	headFails bool
}

func (l *landedLog) Insert(ctx context.Context, m *model.Message) error {
	if err := l.Repository.Insert(ctx, m); err != nil {
		return err
	}
	if l.failNext {
		l.failNext = false
		return context.DeadlineExceeded
	}
	return nil
}

func (l *landedLog) Head(ctx context.Context, key string) (int64, error) {
	if l.headFails {
		l.headFails = false
		return 0, errors.New("connection reset")
	}
	return l.Repository.Head(ctx, key)
}

func TestStore_LandedWriteIsCommitted(t *testing.T) {
	log := &landedLog{Repository: message.NewMemoryRepo(), failNext: true}
	f := newFixture(t, log)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")

	var committed []int64
	first, err := f.store.Append(ctx, a, b, "first", func(m *model.Message) {
		committed = append(committed, m.LogicalTimestamp)
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.LogicalTimestamp)
	require.Equal(t, []int64{1}, committed)

	for i := 0; i < 3; i++ {
		m, err := f.store.Append(ctx, b, a, fmt.Sprintf("next%d", i), nil)
		require.NoError(t, err)
		require.Equal(t, int64(i+2), m.LogicalTimestamp)
	}

	page, err := f.store.List(ctx, a, b, "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "next0", "next1"}, bodies(page))
}

func TestStore_UnknownOutcomeReloadsHead(t *testing.T) {
	log := &landedLog{Repository: message.NewMemoryRepo(), failNext: true, headFails: true}
	f := newFixture(t, log)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")

	called := false
	_, err := f.store.Append(ctx, a, b, "maybe", func(*model.Message) { called = true })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, called)

	// the conversation is not stuck on the timestamp the landed write took
	m, err := f.store.Append(ctx, a, b, "after", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), m.LogicalTimestamp)

	page, err := f.store.List(ctx, a, b, "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"maybe", "after"}, bodies(page))
}

func TestStore_AppendSurvivesCallerCancel(t *testing.T) {
	log := &cancelOnInsert{Repository: message.NewMemoryRepo()}
	f := newFixture(t, log)
	a, b := f.user(t, "a"), f.user(t, "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log.cancel = cancel

	m, err := f.store.Append(ctx, a, b, "sent", nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), m.LogicalTimestamp)
}

// cancelOnInsert cancels the caller's context just before writing and refuses to
// write with a cancelled context.
type cancelOnInsert struct {
	message.Repository
	cancel context.CancelFunc
}

func (l *cancelOnInsert) Insert(ctx context.Context, m *model.Message) error {
	l.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.Repository.Insert(ctx, m)
}

func TestStore_Paging(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	for i := 1; i <= 7; i++ {
		_, err := f.store.Append(ctx, a, b, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	var got []string
	cursor := ""
	pages := 0
	for {
		page, err := f.store.List(ctx, b, a, cursor, 0)
		require.NoError(t, err)
		got = append(got, bodies(page)...)
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	require.Equal(t, 3, pages)
	require.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}, got)

	big, err := f.store.List(ctx, a, b, "", 1000)
	require.NoError(t, err)
	require.Len(t, big.Messages, 7)
	require.Empty(t, big.NextCursor)
}

func TestStore_CursorBoundToConversation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b, c := f.user(t, "a"), f.user(t, "b"), f.user(t, "c")
	for i := 0; i < 5; i++ {
		_, err := f.store.Append(ctx, a, b, "x", nil)
		require.NoError(t, err)
	}

	page, err := f.store.List(ctx, a, b, "", 2)
	require.NoError(t, err)
	require.NotEmpty(t, page.NextCursor)

	_, err = f.store.List(ctx, a, c, page.NextCursor, 2)
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.store.List(ctx, a, b, "not-a-cursor", 2)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestStore_IndexRebuiltAfterRestart(t *testing.T) {
	log := message.NewMemoryRepo()
	f := newFixture(t, log)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	for i := 0; i < 3; i++ {
		_, err := f.store.Append(ctx, a, b, "x", nil)
		require.NoError(t, err)
	}

	ix := index.New(log)
	require.NoError(t, ix.Rebuild(ctx))
	restarted := New(f.users, log, ix, sequence.NewMemory(100), f.store.cursors, metrics.NewNop(), f.store.opts)

	m, err := restarted.Append(ctx, b, a, "after restart", nil)
	require.NoError(t, err)
	require.Equal(t, int64(4), m.LogicalTimestamp)
}

func TestStore_PinAndSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b := f.user(t, "a"), f.user(t, "b")
	for i := 1; i <= 8; i++ {
		_, err := f.store.Append(ctx, a, b, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	var head int64
	require.NoError(t, f.store.Pin(ctx, b, a, func(h int64) { head = h }))
	require.Equal(t, int64(8), head)

	// Appended after the read point, so outside the snapshot.
	_, err := f.store.Append(ctx, a, b, "late", nil)
	require.NoError(t, err)

	var batches [][]*model.Message
	err = f.store.Snapshot(ctx, model.NewConversationKey(a, b), 2, head, func(batch []*model.Message) error {
		batches = append(batches, batch)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 3)
	require.Len(t, batches[1], 3)
	require.Equal(t, int64(3), batches[0][0].LogicalTimestamp)
	require.Equal(t, int64(8), batches[1][2].LogicalTimestamp)

	err = f.store.Pin(ctx, a, a, func(int64) {})
	require.ErrorIs(t, err, errs.ErrValidation)
}
