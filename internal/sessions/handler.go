package sessions

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/middleware"
	"github.com/aura-webinar/liveshop/internal/models"
	"github.com/aura-webinar/liveshop/pkg/response"
	"github.com/aura-webinar/liveshop/pkg/storage"
)

// Store is the session persistence the handler needs. *Repository satisfies it.
type Store interface {
	ListLive(ctx context.Context) ([]models.LiveSession, error)
	ListScheduled(ctx context.Context) ([]models.LiveSession, error)
	Create(ctx context.Context, s *models.LiveSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	End(ctx context.Context, id uuid.UUID) error
	GoLive(ctx context.Context, id uuid.UUID) error
	AddLike(ctx context.Context, id uuid.UUID) error
	SetThumbnail(ctx context.Context, id uuid.UUID, url string) error
}

// Uploader stores thumbnails. *storage.S3 satisfies it.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, publicRead bool) (string, error)
	ThumbnailsBucket() string
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title            string   `json:"title" binding:"required"`
	Description      string   `json:"description"`
	StartTime        string   `json:"start_time"` // RFC3339; a future time schedules the session
	FeaturedProducts []string `json:"featured_products"`
}

// Handler handles live session HTTP endpoints.
type Handler struct {
	store      Store
	history    chat.HistoryReader
	uploader   Uploader
	iceServers []webrtc.ICEServer
	limit      int
	logger     *zap.Logger
}

// NewHandler creates a session handler. uploader may be nil when S3 is not configured.
func NewHandler(store Store, history chat.HistoryReader, uploader Uploader, iceServers []webrtc.ICEServer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, history: history, uploader: uploader, iceServers: iceServers, limit: chat.HistoryLimit, logger: logger}
}

// SetHistoryLimit lowers the number of messages GET /sessions/:id/chat returns.
func (h *Handler) SetHistoryLimit(n int) {
	if n > 0 && n < chat.HistoryLimit {
		h.limit = n
	}
}

// ListLive handles GET /sessions/live.
func (h *Handler) ListLive(c *gin.Context) {
	list, err := h.store.ListLive(c.Request.Context())
	if err != nil {
		h.logger.Error("list live sessions", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// ListScheduled handles GET /sessions/scheduled.
func (h *Handler) ListScheduled(c *gin.Context) {
	list, err := h.store.ListScheduled(c.Request.Context())
	if err != nil {
		h.logger.Error("list scheduled sessions", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// Create handles POST /sessions. The caller becomes the seller.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s := &models.LiveSession{
		SellerID:         userID,
		Title:            req.Title,
		Description:      req.Description,
		Status:           models.LiveSessionLive,
		FeaturedProducts: req.FeaturedProducts,
	}
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			response.BadRequest(c, "invalid start_time")
			return
		}
		s.StartTime = &t
		if t.After(time.Now()) {
			s.Status = models.LiveSessionScheduled
		}
	}
	if err := h.store.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create session", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, s)
}

// Start handles POST /sessions/:id/start (seller only): scheduled to live.
func (h *Handler) Start(c *gin.Context) {
	s, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if err := h.store.GoLive(c.Request.Context(), s.ID); err != nil {
		h.respondErr(c, "start session", err)
		return
	}
	response.NoContent(c)
}

// End handles POST /sessions/:id/end (seller only).
func (h *Handler) End(c *gin.Context) {
	s, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if err := h.store.End(c.Request.Context(), s.ID); err != nil {
		h.respondErr(c, "end session", err)
		return
	}
	response.NoContent(c)
}

// Like handles POST /sessions/:id/like.
func (h *Handler) Like(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.store.AddLike(c.Request.Context(), id); err != nil {
		h.respondErr(c, "add like", err)
		return
	}
	response.NoContent(c)
}

// ChatHistory handles GET /sessions/:id/chat: the most recent messages, oldest first.
func (h *Handler) ChatHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	msgs, err := h.history.History(c.Request.Context(), id.String(), h.limit)
	if err != nil {
		h.logger.Error("chat history", zap.Error(err))
		response.Internal(c, "failed to load chat history")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	response.OK(c, msgs)
}

// UploadThumbnail handles POST /sessions/:id/thumbnail (seller only, multipart field "file").
func (h *Handler) UploadThumbnail(c *gin.Context) {
	if h.uploader == nil {
		response.ServiceUnavailable(c, "thumbnail storage not configured")
		return
	}
	s, ok := h.loadOwned(c)
	if !ok {
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file")
		return
	}
	if file.Size > storage.MaxThumbnailSize {
		response.BadRequest(c, "file too large")
		return
	}
	contentType := file.Header.Get("Content-Type")
	ext, ok := storage.ThumbnailExtension(contentType)
	if !ok {
		response.BadRequest(c, "unsupported image type")
		return
	}
	body, err := file.Open()
	if err != nil {
		response.BadRequest(c, "unreadable file")
		return
	}
	defer body.Close()

	key := storage.ThumbnailKey(s.ID.String(), ext, time.Now())
	url, err := h.uploader.Upload(c.Request.Context(), h.uploader.ThumbnailsBucket(), key, contentType, body, file.Size, true)
	if err != nil {
		h.logger.Error("upload thumbnail", zap.Error(err), zap.String("session_id", s.ID.String()))
		response.Internal(c, "failed to upload thumbnail")
		return
	}
	if err := h.store.SetThumbnail(c.Request.Context(), s.ID, url); err != nil {
		h.respondErr(c, "set thumbnail", err)
		return
	}
	response.OK(c, gin.H{"thumbnail_url": url})
}

// ICEServers handles GET /ice-servers: the list every peer connection uses.
func (h *Handler) ICEServers(c *gin.Context) {
	response.OK(c, gin.H{"ice_servers": h.iceServers})
}

func (h *Handler) load(c *gin.Context) (*models.LiveSession, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	s, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, "get session", err)
		return nil, false
	}
	return s, true
}

func (h *Handler) loadOwned(c *gin.Context) (*models.LiveSession, bool) {
	s, ok := h.load(c)
	if !ok {
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if !s.IsHost(userID) {
		response.Forbidden(c, "only the seller can manage this session")
		return nil, false
	}
	return s, true
}

func (h *Handler) respondErr(c *gin.Context, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	h.logger.Error(op, zap.Error(err))
	response.Internal(c, "failed to "+op)
}
