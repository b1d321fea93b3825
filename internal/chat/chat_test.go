package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveshop/internal/relay"
	"github.com/aura-webinar/liveshop/pkg/queue"
)

type memStore struct {
	mu         sync.Mutex
	records    []Record
	history    []Message
	appendErr  error
	historyErr error
}

func (s *memStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memStore) History(context.Context, string, int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out, s.historyErr
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type feed struct {
	mu   sync.Mutex
	msgs []Message
}

func (f *feed) add(m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
}

func (f *feed) snapshot() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

type likeCounter struct {
	mu sync.Mutex
	n  int
}

func (c *likeCounter) AddLike(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

var alice = &Sender{UserID: "u-alice", Name: "Alice"}

func joined(t *testing.T, broker relay.Broker, store Store, sender *Sender, opts ...Option) (*Relay, *feed) {
	t.Helper()
	f := &feed{}
	r := NewRelay(broker, store, "s1", sender, f.add, opts...)
	_, err := r.Join(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Leave() })
	return r, f
}

func TestSendMessagePersistsAndBroadcastsOnce(t *testing.T) {
	broker := relay.NewMemoryBroker()
	store := &memStore{}
	r, own := joined(t, broker, store, alice)
	_, other := joined(t, broker, store, nil)

	require.NoError(t, r.SendMessage(context.Background(), "Bonjour"))
	require.Equal(t, 1, store.count())
	assert.Equal(t, Record{SessionID: "s1", UserID: "u-alice", Content: "Bonjour", Type: TypeText}, store.records[0])

	require.Eventually(t, func() bool { return len(other.snapshot()) == 1 && len(own.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	got := other.snapshot()[0]
	assert.Equal(t, TypeText, got.Type)
	assert.Equal(t, "Bonjour", got.Content)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, got.ID, own.snapshot()[0].ID, "the sender sees its own message through the channel")
}

func TestSendMessageNoOps(t *testing.T) {
	broker := relay.NewMemoryBroker()
	ctx := context.Background()

	store := &memStore{}
	r, f := joined(t, broker, store, alice)
	require.NoError(t, r.SendMessage(ctx, "   "))

	anon, _ := joined(t, broker, store, nil)
	require.NoError(t, anon.SendMessage(ctx, "hello"))
	require.NoError(t, anon.SendLike(ctx))

	unjoined := NewRelay(broker, store, "s1", alice, nil)
	require.NoError(t, unjoined.SendMessage(ctx, "hello"))

	require.NoError(t, r.Leave())
	require.NoError(t, r.SendMessage(ctx, "after leave"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.count())
	assert.Empty(t, f.snapshot())
}

func TestSendLikeUsesFixedReaction(t *testing.T) {
	broker := relay.NewMemoryBroker()
	store := &memStore{}
	likes := &likeCounter{}
	r, f := joined(t, broker, store, &Sender{UserID: "u-bob"}, WithLikeCounter(likes))

	require.NoError(t, r.SendLike(context.Background()))
	require.Eventually(t, func() bool { return len(f.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	got := f.snapshot()[0]
	assert.Equal(t, TypeLike, got.Type)
	assert.Equal(t, LikeContent, got.Content)
	assert.Equal(t, DefaultName, got.Name)
	require.Equal(t, 1, store.count())
	assert.Equal(t, TypeLike, store.records[0].Type)
	assert.Equal(t, 1, likes.n)
}

func TestPersistFailureDoesNotBlockBroadcast(t *testing.T) {
	broker := relay.NewMemoryBroker()
	store := &memStore{appendErr: errors.New("db down")}
	r, f := joined(t, broker, store, alice)

	require.NoError(t, r.SendMessage(context.Background(), "still delivered"))
	require.Eventually(t, func() bool { return len(f.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "still delivered", f.snapshot()[0].Content)
}

func TestJoinReplaysRecentHistoryOldestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var history []Message
	for i := 0; i < 60; i++ {
		history = append(history, Message{ID: fmt.Sprint(i), UserID: "u", Content: "m", Type: TypeText, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	rand.New(rand.NewSource(1)).Shuffle(len(history), func(i, j int) { history[i], history[j] = history[j], history[i] })

	r := NewRelay(relay.NewMemoryBroker(), &memStore{history: history}, "s1", alice, nil)
	got, err := r.Join(context.Background())
	require.NoError(t, err)
	defer r.Leave()

	require.Len(t, got, HistoryLimit)
	assert.Equal(t, "10", got[0].ID)
	assert.Equal(t, "59", got[len(got)-1].ID)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].CreatedAt.Before(got[i].CreatedAt))
	}
}

func TestJoinHonorsLowerHistoryLimit(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var history []Message
	for i := 0; i < 60; i++ {
		history = append(history, Message{ID: fmt.Sprint(i), UserID: "u", Content: "m", Type: TypeText, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	r := NewRelay(relay.NewMemoryBroker(), &memStore{history: history}, "s1", alice, nil, WithHistoryLimit(20))
	got, err := r.Join(context.Background())
	require.NoError(t, err)
	defer r.Leave()

	require.Len(t, got, 20)
	assert.Equal(t, "40", got[0].ID)
	assert.Equal(t, "59", got[19].ID)
}

func TestHistoryLimitNeverExceedsCap(t *testing.T) {
	history := make([]Message, 60)
	for i := range history {
		history[i] = Message{ID: fmt.Sprint(i), CreatedAt: time.Unix(int64(i), 0)}
	}

	for _, n := range []int{0, -3, HistoryLimit, 500} {
		r := NewRelay(relay.NewMemoryBroker(), &memStore{history: history}, "s1", alice, nil, WithHistoryLimit(n))
		got, err := r.Join(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, HistoryLimit, "limit %d", n)
		_ = r.Leave()
	}
}

func TestJoinSurvivesHistoryFailure(t *testing.T) {
	r := NewRelay(relay.NewMemoryBroker(), &memStore{historyErr: errors.New("db down")}, "s1", alice, nil)
	got, err := r.Join(context.Background())
	require.NoError(t, err)
	defer r.Leave()
	assert.Empty(t, got)
	assert.True(t, r.Connected())
}

type refusingBroker struct{}

func (refusingBroker) Join(context.Context, string, relay.JoinOptions, relay.Handler) (relay.Channel, error) {
	return nil, relay.ErrJoinFailed
}

func TestJoinFailureIsReturned(t *testing.T) {
	r := NewRelay(refusingBroker{}, &memStore{}, "s1", alice, nil)
	_, err := r.Join(context.Background())
	assert.ErrorIs(t, err, relay.ErrJoinFailed)
	assert.False(t, r.Connected())
}

func TestDecodeMessage(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"id":"1","user_id":"u","content":"hi","type":"text"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultName, m.Name)

	for _, raw := range []string{`{`, `{"user_id":"u","content":"hi","type":"shout"}`, `{"user_id":"","content":"hi","type":"text"}`} {
		_, err := DecodeMessage([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

type jobRecorder struct {
	payloads []queue.ChatMessagePayload
}

func (j *jobRecorder) EnqueueChatMessage(_ context.Context, p queue.ChatMessagePayload) error {
	j.payloads = append(j.payloads, p)
	return nil
}

func TestQueuedStoreEnqueues(t *testing.T) {
	jobs := &jobRecorder{}
	s := NewQueuedStore(jobs, &memStore{})

	require.NoError(t, s.Append(context.Background(), Record{SessionID: "s1", UserID: "u1", Content: LikeContent, Type: TypeLike}))
	require.Len(t, jobs.payloads, 1)
	assert.Equal(t, queue.ChatMessagePayload{SessionID: "s1", UserID: "u1", Content: LikeContent, MessageType: "like"}, jobs.payloads[0])
}
