package sessions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/models"
	"github.com/aura-webinar/liveshop/internal/signaling"
)

type viewerStore struct {
	*memStore
	viewers map[uuid.UUID]int
}

func (v *viewerStore) SetViewers(_ context.Context, id uuid.UUID, count int) error {
	v.viewers[id] = count
	return nil
}

type members map[string][]string

func (m members) MemberUsers(channel string) []string { return m[channel] }

func TestAudienceHandlerCountsNonSellers(t *testing.T) {
	store := &viewerStore{memStore: newMemStore(), viewers: map[uuid.UUID]int{}}
	seller := uuid.New()
	s := &models.LiveSession{SellerID: seller, Title: "t", Status: models.LiveSessionLive}
	require.NoError(t, store.Create(context.Background(), s))

	channel := signaling.ChannelName(s.ID.String())
	m := members{}
	m[channel] = []string{seller.String(), "viewer-a", "viewer-b"}
	m[chat.ChannelName(s.ID.String())] = []string{"viewer-a"}
	handle := AudienceHandler(store, m, nil)

	handle(channel, 3)
	assert.Equal(t, 2, store.viewers[s.ID])

	delete(store.viewers, s.ID)
	handle(chat.ChannelName(s.ID.String()), 1)
	handle(signaling.ChannelName("not-a-uuid"), 1)
	handle(signaling.ChannelName(uuid.NewString()), 1)
	assert.Empty(t, store.viewers)
}
