package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
	"github.com/hunyaochong/ads-cloner/internal/storage"
)

// MockDownloader is a mock implementation of the Downloader interface
type MockDownloader struct {
	mock.Mock
}

func (m *MockDownloader) Enqueue(ctx context.Context, ids []string) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}

func (m *MockDownloader) EnqueueJob(ctx context.Context, jobID string) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

func (m *MockDownloader) Status() models.QueueStatus {
	return m.Called().Get(0).(models.QueueStatus)
}

func newTestServer(t *testing.T, dl Downloader, opts Options) (*Server, *storage.MemoryStorage) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStorage()
	opts.Logger = log.New(io.Discard, "", 0)
	cfg := config.ServerConfig{Port: 0, CORSAllowedOrigins: []string{"*"}}
	return NewServer(cfg, store, dl, opts), store
}

func do(s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	dl := new(MockDownloader)
	dl.On("Status").Return(models.QueueStatus{QueueLength: 2, Draining: true})
	s, _ := newTestServer(t, dl, Options{})

	rec := do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode(t, rec)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, map[string]any{"queue_length": float64(2), "draining": true}, body["queue"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	dl := new(MockDownloader)
	dl.On("Status").Return(models.QueueStatus{})
	s, _ := newTestServer(t, dl, Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestDownloadMedia(t *testing.T) {
	dl := new(MockDownloader)
	dl.On("Enqueue", mock.Anything, []string{"a1", "a2"}).Return(1, nil)
	s, _ := newTestServer(t, dl, Options{})

	rec := do(s, http.MethodPost, "/api/download-media", []byte(`{"ad_ids":["a1","a2"]}`))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["queued"])
	assert.Equal(t, "1 ads queued for download", body["message"])
	dl.AssertExpectations(t)
}

func TestDownloadMedia_BadRequest(t *testing.T) {
	for _, payload := range []string{`{}`, `{"ad_ids":"a1"}`, `not json`} {
		dl := new(MockDownloader)
		s, _ := newTestServer(t, dl, Options{})

		rec := do(s, http.MethodPost, "/api/download-media", []byte(payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
		assert.Equal(t, "ad_ids array is required", decode(t, rec)["error"])
		dl.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	}
}

func TestDownloadMedia_StoreFailure(t *testing.T) {
	dl := new(MockDownloader)
	dl.On("Enqueue", mock.Anything, mock.Anything).Return(0, errors.New("record store error: timeout"))
	s, _ := newTestServer(t, dl, Options{})

	rec := do(s, http.MethodPost, "/api/download-media", []byte(`{"ad_ids":["a1"]}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "timeout")
}

func TestDownloadJobMedia(t *testing.T) {
	dl := new(MockDownloader)
	dl.On("EnqueueJob", mock.Anything, "job-1").Return(3, nil)
	dl.On("EnqueueJob", mock.Anything, "job-2").Return(0, nil)
	s, _ := newTestServer(t, dl, Options{})

	rec := do(s, http.MethodPost, "/api/download-job-media/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["queued"])

	rec = do(s, http.MethodPost, "/api/download-job-media/job-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No pending downloads found", decode(t, rec)["message"])
}

func TestDownloadStatus(t *testing.T) {
	dl := new(MockDownloader)
	dl.On("Status").Return(models.QueueStatus{QueueLength: 4, Draining: true})
	s, _ := newTestServer(t, dl, Options{})

	rec := do(s, http.MethodGet, "/api/download-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue_length":4,"draining":true}`, rec.Body.String())
}

func TestGetJob(t *testing.T) {
	s, store := newTestServer(t, new(MockDownloader), Options{})
	store.PutJob(models.Job{ID: "job-1", Status: models.JobStatusCompleted, TotalCount: 3, DownloadedCount: 2})

	rec := do(s, http.MethodGet, "/api/scraping-jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(3), body["total_ads"])
	assert.Equal(t, float64(2), body["downloaded_ads"])

	rec = do(s, http.MethodGet, "/api/scraping-jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAds(t *testing.T) {
	s, store := newTestServer(t, new(MockDownloader), Options{})
	store.PutAd(models.Ad{ID: "a1", JobID: "job-1", ArchiveID: "111", DownloadStatus: models.DownloadStatusPending})
	store.PutAd(models.Ad{ID: "a2", JobID: "job-2", ArchiveID: "222", DownloadStatus: models.DownloadStatusPending})

	rec := do(s, http.MethodGet, "/api/ads?job_id=job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ads []models.Ad
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ads))
	require.Len(t, ads, 1)
	assert.Equal(t, "111", ads[0].ArchiveID)

	rec = do(s, http.MethodGet, "/api/ads", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocalMediaRoute(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "job-1", "media"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job-1", "media", "111.jpg"), []byte("jpeg"), 0o644))

	s, _ := newTestServer(t, new(MockDownloader), Options{MediaDir: dir})

	rec := do(s, http.MethodGet, "/media/job-1/media/111.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg", rec.Body.String())
}

func TestNoRoute(t *testing.T) {
	s, _ := newTestServer(t, new(MockDownloader), Options{})

	rec := do(s, http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Route not found", decode(t, rec)["error"])
}

func TestCORSAllowedOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dl := new(MockDownloader)
	dl.On("Status").Return(models.QueueStatus{})
	s := NewServer(config.ServerConfig{CORSAllowedOrigins: []string{"http://localhost:5173"}},
		storage.NewMemoryStorage(), dl, Options{Logger: log.New(io.Discard, "", 0)})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
