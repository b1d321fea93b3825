package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveshop/internal/auth"
	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/middleware"
	"github.com/aura-webinar/liveshop/internal/models"
	"github.com/aura-webinar/liveshop/internal/peer"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.LiveSession
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[uuid.UUID]*models.LiveSession)}
}

func (m *memStore) ListLive(context.Context) ([]models.LiveSession, error) {
	return m.byStatus(models.LiveSessionLive), nil
}

func (m *memStore) ListScheduled(context.Context) ([]models.LiveSession, error) {
	return m.byStatus(models.LiveSessionScheduled), nil
}

func (m *memStore) byStatus(st models.LiveSessionStatus) []models.LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.LiveSession{}
	for _, s := range m.sessions {
		if s.Status == st {
			out = append(out, *s)
		}
	}
	return out
}

func (m *memStore) Create(_ context.Context, s *models.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) update(id uuid.UUID, fn func(s *models.LiveSession) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !fn(s) {
		return ErrNotFound
	}
	return nil
}

func (m *memStore) End(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(s *models.LiveSession) bool {
		if s.Status == models.LiveSessionEnded {
			return false
		}
		s.Status = models.LiveSessionEnded
		return true
	})
}

func (m *memStore) GoLive(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(s *models.LiveSession) bool {
		if s.Status != models.LiveSessionScheduled {
			return false
		}
		s.Status = models.LiveSessionLive
		return true
	})
}

func (m *memStore) AddLike(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(s *models.LiveSession) bool { s.LikesCount++; return true })
}

func (m *memStore) SetThumbnail(_ context.Context, id uuid.UUID, url string) error {
	return m.update(id, func(s *models.LiveSession) bool { s.ThumbnailURL = &url; return true })
}

type historyStub struct {
	msgs  []chat.Message
	limit int
}

func (h *historyStub) History(_ context.Context, _ string, limit int) ([]chat.Message, error) {
	h.limit = limit
	return h.msgs, nil
}

type uploadStub struct {
	key  string
	body []byte
}

func (u *uploadStub) Upload(_ context.Context, bucket, key, _ string, body io.Reader, _ int64, _ bool) (string, error) {
	u.key = key
	u.body, _ = io.ReadAll(body)
	return "https://" + bucket + ".example/" + key, nil
}

func (u *uploadStub) ThumbnailsBucket() string { return "thumbs" }

type fixture struct {
	router  *gin.Engine
	store   *memStore
	history *historyStub
	handler *Handler
	upload  *uploadStub
	jwt     *auth.JWTService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		store:   newMemStore(),
		history: &historyStub{msgs: []chat.Message{{ID: "m1", Content: "hi", Type: chat.TypeText}}},
		upload:  &uploadStub{},
		jwt:     auth.NewJWTService("test-secret", 1),
	}
	h := NewHandler(f.store, f.history, f.upload, peer.DefaultICEServers(), nil)
	f.handler = h

	r := gin.New()
	r.GET("/ice-servers", h.ICEServers)
	r.GET("/sessions/live", h.ListLive)
	r.GET("/sessions/scheduled", h.ListScheduled)
	r.GET("/sessions/:id", h.GetByID)
	r.GET("/sessions/:id/chat", h.ChatHistory)
	api := r.Group("", middleware.JWT(f.jwt))
	api.POST("/sessions", middleware.RequireRole(middleware.RoleSeller), h.Create)
	api.POST("/sessions/:id/start", h.Start)
	api.POST("/sessions/:id/end", h.End)
	api.POST("/sessions/:id/like", h.Like)
	api.POST("/sessions/:id/thumbnail", h.UploadThumbnail)
	f.router = r
	return f
}

func (f *fixture) token(t *testing.T, user uuid.UUID, role string) string {
	t.Helper()
	tok, err := f.jwt.Generate(user, "Seller", "", role)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.True(t, env.Success, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, into))
}

func TestCreateDefaultsToLive(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()

	w := f.do(httptest.NewRequest(http.MethodPost, "/sessions", jsonBody(t, CreateRequest{Title: "Spring drop"})), f.token(t, seller, middleware.RoleSeller))
	require.Equal(t, http.StatusCreated, w.Code)
	var s models.LiveSession
	decode(t, w, &s)
	assert.Equal(t, models.LiveSessionLive, s.Status)
	assert.Equal(t, seller, s.SellerID)

	w = f.do(httptest.NewRequest(http.MethodGet, "/sessions/live", nil), "")
	var live []models.LiveSession
	decode(t, w, &live)
	assert.Len(t, live, 1)
}

func TestCreateFutureStartSchedules(t *testing.T) {
	f := newFixture(t)
	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	w := f.do(httptest.NewRequest(http.MethodPost, "/sessions", jsonBody(t, CreateRequest{Title: "Later", StartTime: start})), f.token(t, uuid.New(), middleware.RoleSeller))
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/sessions/scheduled", nil), "")
	var scheduled []models.LiveSession
	decode(t, w, &scheduled)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "Later", scheduled[0].Title)
}

func TestCreateRequiresSellerRole(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodPost, "/sessions", jsonBody(t, CreateRequest{Title: "x"})), f.token(t, uuid.New(), "buyer"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(httptest.NewRequest(http.MethodPost, "/sessions", jsonBody(t, CreateRequest{Title: "x"})), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEndOnlyBySeller(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	s := &models.LiveSession{SellerID: seller, Title: "t", Status: models.LiveSessionLive}
	require.NoError(t, f.store.Create(context.Background(), s))
	path := "/sessions/" + s.ID.String() + "/end"

	w := f.do(httptest.NewRequest(http.MethodPost, path, nil), f.token(t, uuid.New(), "buyer"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(httptest.NewRequest(http.MethodPost, path, nil), f.token(t, seller, middleware.RoleSeller))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(httptest.NewRequest(http.MethodPost, path, nil), f.token(t, seller, middleware.RoleSeller))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLikeIncrements(t *testing.T) {
	f := newFixture(t)
	s := &models.LiveSession{SellerID: uuid.New(), Title: "t", Status: models.LiveSessionLive}
	require.NoError(t, f.store.Create(context.Background(), s))
	viewer := f.token(t, uuid.New(), "buyer")

	for i := 0; i < 3; i++ {
		w := f.do(httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID.String()+"/like", nil), viewer)
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	got, err := f.store.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.LikesCount)

	w := f.do(httptest.NewRequest(http.MethodPost, "/sessions/not-a-uuid/like", nil), viewer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHistoryAndICEServers(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.NewString()+"/chat", nil), "")
	var msgs []chat.Message
	decode(t, w, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, chat.HistoryLimit, f.history.limit)

	w = f.do(httptest.NewRequest(http.MethodGet, "/ice-servers", nil), "")
	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"ice_servers"`
	}
	decode(t, w, &body)
	assert.Len(t, body.ICEServers, 10)
}

func TestChatHistoryUsesConfiguredLimit(t *testing.T) {
	f := newFixture(t)
	f.handler.SetHistoryLimit(20)

	w := f.do(httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.NewString()+"/chat", nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, f.history.limit)

	f.handler.SetHistoryLimit(500)
	f.do(httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.NewString()+"/chat", nil), "")
	assert.Equal(t, 20, f.history.limit)
}

func TestUploadThumbnail(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	s := &models.LiveSession{SellerID: seller, Title: "t", Status: models.LiveSessionLive}
	require.NoError(t, f.store.Create(context.Background(), s))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="cover.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, _ = part.Write([]byte("\x89PNG fake"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID.String()+"/thumbnail", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := f.do(req, f.token(t, seller, middleware.RoleSeller))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Contains(t, f.upload.key, "thumbnails/"+s.ID.String()+"/")
	assert.Equal(t, "\x89PNG fake", string(f.upload.body))
	got, _ := f.store.GetByID(context.Background(), s.ID)
	require.NotNil(t, got.ThumbnailURL)
	assert.Contains(t, *got.ThumbnailURL, "https://thumbs.example/")
}
