package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/models"
	"github.com/aura-webinar/liveshop/internal/relay"
	"github.com/aura-webinar/liveshop/internal/signaling"
)

const audienceUpdateTimeout = 5 * time.Second

// ViewerStore reads a session and writes its viewer count. *Repository satisfies it.
type ViewerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	SetViewers(ctx context.Context, id uuid.UUID, count int) error
}

// MemberLister lists the users joined to a relay channel. *relay.Hub satisfies it.
type MemberLister interface {
	MemberUsers(channel string) []string
}

// AudienceHandler keeps viewers_count equal to the number of distinct non-seller users
// joined to a session's signaling channel. Other channels are ignored.
func AudienceHandler(store ViewerStore, members MemberLister, logger *zap.Logger) relay.AudienceChangeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := signaling.ChannelName("")
	return func(channel string, _ int) {
		raw, ok := strings.CutPrefix(channel, prefix)
		if !ok {
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), audienceUpdateTimeout)
		defer cancel()

		s, err := store.GetByID(ctx, id)
		if err != nil {
			logger.Debug("audience change for unknown session", zap.String("session_id", raw), zap.Error(err))
			return
		}
		seller := s.SellerID.String()
		viewers := 0
		for _, u := range members.MemberUsers(channel) {
			if u != seller {
				viewers++
			}
		}
		if err := store.SetViewers(ctx, id, viewers); err != nil {
			logger.Warn("update viewers count failed", zap.String("session_id", raw), zap.Error(err))
		}
	}
}
