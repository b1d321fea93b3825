package models

import (
	"time"

	"github.com/google/uuid"
)

// LiveSessionStatus is the lifecycle status of a live shopping session.
type LiveSessionStatus string

const (
	LiveSessionScheduled LiveSessionStatus = "scheduled"
	LiveSessionLive      LiveSessionStatus = "live"
	LiveSessionEnded     LiveSessionStatus = "ended"
)

// LiveSession is a live shopping broadcast by one seller.
type LiveSession struct {
	ID               uuid.UUID         `json:"id"`
	SellerID         uuid.UUID         `json:"seller_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Status           LiveSessionStatus `json:"status"`
	StartTime        *time.Time        `json:"start_time,omitempty"`
	StreamKey        string            `json:"-"`
	ThumbnailURL     *string           `json:"thumbnail_url,omitempty"`
	ViewersCount     int               `json:"viewers_count"`
	LikesCount       int               `json:"likes_count"`
	FeaturedProducts []string          `json:"featured_products"`
	CreatedAt        time.Time         `json:"created_at"`
}

// IsHost reports whether userID broadcasts this session.
func (s *LiveSession) IsHost(userID uuid.UUID) bool {
	return s.SellerID == userID
}
