// Package sessions persists live shopping sessions and serves their HTTP API.
package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/liveshop/internal/models"
	"github.com/aura-webinar/liveshop/pkg/utils"
)

// ErrNotFound is returned when a session does not exist or is already ended.
var ErrNotFound = errors.New("session not found")

const sessionColumns = `id, seller_id, title, description, status, start_time, stream_key, thumbnail_url,
	viewers_count, likes_count, featured_products, created_at`

// Repository handles live_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.LiveSession, error) {
	var s models.LiveSession
	var status string
	err := row.Scan(&s.ID, &s.SellerID, &s.Title, &s.Description, &status, &s.StartTime, &s.StreamKey, &s.ThumbnailURL,
		&s.ViewersCount, &s.LikesCount, &s.FeaturedProducts, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.LiveSessionStatus(status)
	if s.FeaturedProducts == nil {
		s.FeaturedProducts = []string{}
	}
	return &s, nil
}

func (r *Repository) list(ctx context.Context, q string) ([]models.LiveSession, error) {
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.LiveSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ListLive returns live sessions, most watched first.
func (r *Repository) ListLive(ctx context.Context) ([]models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions
		WHERE status = 'live' ORDER BY viewers_count DESC, created_at DESC`
	return r.list(ctx, q)
}

// ListScheduled returns scheduled sessions, soonest first.
func (r *Repository) ListScheduled(ctx context.Context) ([]models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions
		WHERE status = 'scheduled' ORDER BY start_time ASC NULLS LAST`
	return r.list(ctx, q)
}

// Create inserts s. Status defaults to live and start time to now.
func (r *Repository) Create(ctx context.Context, s *models.LiveSession) error {
	if s.Status == "" {
		s.Status = models.LiveSessionLive
	}
	if s.FeaturedProducts == nil {
		s.FeaturedProducts = []string{}
	}
	key, err := utils.NewStreamKey()
	if err != nil {
		return err
	}
	s.StreamKey = key
	const q = `INSERT INTO live_sessions (id, seller_id, title, description, status, start_time, stream_key, featured_products)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, COALESCE($5, NOW()), $6, $7)
		RETURNING id, start_time, viewers_count, likes_count, created_at`
	return r.pool.QueryRow(ctx, q, s.SellerID, s.Title, s.Description, string(s.Status), s.StartTime, s.StreamKey, s.FeaturedProducts).
		Scan(&s.ID, &s.StartTime, &s.ViewersCount, &s.LikesCount, &s.CreatedAt)
}

// GetByID returns a session by ID, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// End moves a session to ended. Ending an ended session returns ErrNotFound.
func (r *Repository) End(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE live_sessions SET status = 'ended', viewers_count = 0 WHERE id = $1 AND status <> 'ended'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GoLive moves a scheduled session to live.
func (r *Repository) GoLive(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE live_sessions SET status = 'live', start_time = NOW() WHERE id = $1 AND status = 'scheduled'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddLike increments likes_count.
func (r *Repository) AddLike(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE live_sessions SET likes_count = likes_count + 1 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// SetViewers sets viewers_count for a live session.
func (r *Repository) SetViewers(ctx context.Context, id uuid.UUID, count int) error {
	const q = `UPDATE live_sessions SET viewers_count = $1 WHERE id = $2 AND status = 'live'`
	_, err := r.pool.Exec(ctx, q, count, id)
	return err
}

// SetThumbnail sets thumbnail_url.
func (r *Repository) SetThumbnail(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE live_sessions SET thumbnail_url = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, url, id)
	return err
}
