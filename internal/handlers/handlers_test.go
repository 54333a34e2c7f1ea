package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/maneesh/smilewall/internal/devices"
	"github.com/maneesh/smilewall/internal/gallery"
	"github.com/maneesh/smilewall/internal/hub"
	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/models"
	"github.com/maneesh/smilewall/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://localhost:3001"

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x02}, 128)...)

type testServer struct {
	handler http.Handler
	coord   *ingest.Coordinator
	hub     *hub.Hub
	cache   storage.SnapshotCache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	reg := prometheus.NewRegistry()
	m := metrics.NewProvider(true, reg)

	blobs, err := storage.NewDiskStore(t.TempDir(), logger)
	require.NoError(t, err)
	docs, err := storage.NewFileDocumentStore(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	ledger := gallery.NewLedger(docs, blobs, m, logger)
	registry := devices.NewRegistry(docs, m, logger)
	h := hub.New(hub.Options{QueueSize: 16, PingInterval: time.Second}, m, logger)
	t.Cleanup(h.Close)
	cache := storage.NewMemoryCache(1024*1024, time.Minute)

	coord := ingest.NewCoordinator(blobs, ledger, registry, h, cache,
		ingest.Options{PublicBaseURL: baseURL, MaxUploadBytes: 1 << 20}, m, logger)

	handler := NewRouter(Deps{
		Coordinator:    coord,
		Hub:            h,
		Cache:          cache,
		Metrics:        m,
		Gatherer:       reg,
		Logger:         logger,
		MaxUploadBytes: 1 << 20,
		RecentLimit:    20,
		CORSOrigins:    []string{"*"},
	})
	return &testServer{handler: handler, coord: coord, hub: h, cache: cache}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, apiKey string, withPhoto bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if withPhoto {
		part, err := mw.CreateFormFile("photo", "smile.jpg")
		require.NoError(t, err)
		_, err = part.Write(jpegBytes)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "nothing"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUpload_LobbyScenario(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/cameras", RegisterRequest{Name: "Lobby", Location: "Floor 1", APIKey: "cam_abc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	camera := decode[CameraResponse](t, rec)
	assert.True(t, camera.Success)

	rec = ts.upload(t, "cam_abc", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	up := decode[UploadResponse](t, rec)
	assert.True(t, up.Success)
	assert.Equal(t, 1, up.Total)
	assert.Equal(t, baseURL+"/images/"+up.GalleryID, up.URL)

	rec = ts.do(t, http.MethodGet, "/gallery", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var raw struct {
		Images []map[string]any `json:"images"`
		Total  int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Len(t, raw.Images, 1)
	assert.Equal(t, "Lobby", raw.Images[0]["camera"])
	assert.Equal(t, "Floor 1", raw.Images[0]["cameraLocation"])
	assert.Equal(t, false, raw.Images[0]["uploaded"])
	assert.Equal(t, 1, raw.Total)

	cams := decode[CamerasResponse](t, ts.do(t, http.MethodGet, "/cameras", nil))
	require.Len(t, cams.Cameras, 1)
	assert.Equal(t, int64(1), cams.Cameras[0].CaptureCount)
}

func TestUpload_AnonymousHasNullCamera(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.upload(t, "", true).Code)

	rec := ts.do(t, http.MethodGet, "/gallery", nil)
	assert.Contains(t, rec.Body.String(), `"camera":null`)
}

func TestUpload_MissingPhoto(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.upload(t, "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "Upload failed", resp.Message)
	assert.Contains(t, resp.Error, "no photo provided")
}

func TestCountAndTestSmile(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, 0, decode[CountResponse](t, ts.do(t, http.MethodGet, "/count", nil)).TotalCount)

	resp := decode[TestSmileResponse](t, ts.do(t, http.MethodPost, "/test-smile", nil))
	assert.True(t, resp.Success)
	assert.Equal(t, "Test smile sent", resp.Message)
	assert.Equal(t, 1, resp.Total)

	assert.Equal(t, 1, decode[CountResponse](t, ts.do(t, http.MethodGet, "/count", nil)).TotalCount)
}

func TestRecentImages_CachedAndInvalidated(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	resp := decode[RecentResponse](t, ts.do(t, http.MethodGet, "/recent-images", nil))
	assert.Empty(t, resp.Images)
	assert.NotNil(t, resp.Images)

	cached, err := ts.cache.Get(ctx, storage.RecentCacheKey)
	require.NoError(t, err)
	assert.NotNil(t, cached)

	up := decode[UploadResponse](t, ts.upload(t, "", true))
	resp = decode[RecentResponse](t, ts.do(t, http.MethodGet, "/recent-images", nil))
	assert.Equal(t, []string{up.URL}, resp.Images)
	assert.Equal(t, 1, resp.TotalCount)

	ts.do(t, http.MethodPost, "/test-smile", nil)
	resp = decode[RecentResponse](t, ts.do(t, http.MethodGet, "/recent-images", nil))
	assert.Equal(t, 2, resp.TotalCount)
}

func TestSnapshot_NotCachedWhenMutatedDuringCompute(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	up := decode[UploadResponse](t, ts.upload(t, "", true))

	ss := snapshotServer{
		cache:      ts.cache,
		generation: ts.coord.CacheGeneration,
		metrics:    metrics.Noop(),
		logger:     zerolog.Nop(),
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/gallery", nil)
	ss.serveFromCacheOrCompute(rec, req, storage.GalleryCacheKey, func() (any, bool) {
		stale := GalleryResponse{Images: ts.coord.Gallery()}
		n, err := ts.coord.Delete(ctx, []string{up.GalleryID})
		require.NoError(t, err)
		require.Equal(t, 1, n)
		return stale, true
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	cached, err := ts.cache.Get(ctx, storage.GalleryCacheKey)
	require.NoError(t, err)
	assert.Nil(t, cached)

	gal := decode[GalleryResponse](t, ts.do(t, http.MethodGet, "/gallery", nil))
	assert.Empty(t, gal.Images)
	cached, err = ts.cache.Get(ctx, storage.GalleryCacheKey)
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestGalleryDeleteAndExport(t *testing.T) {
	ts := newTestServer(t)
	up := decode[UploadResponse](t, ts.upload(t, "", true))

	rec := ts.do(t, http.MethodPost, "/gallery/delete", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/gallery/delete", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		exp := decode[ExportResponse](t, ts.do(t, http.MethodPost, "/gallery/upload-drive", ImageIDsRequest{ImageIDs: []string{up.GalleryID}}))
		assert.True(t, exp.Success)
		assert.Equal(t, 1, exp.Uploaded)
	}

	del := decode[DeleteResponse](t, ts.do(t, http.MethodPost, "/gallery/delete", ImageIDsRequest{ImageIDs: []string{up.GalleryID}}))
	assert.Equal(t, 1, del.Deleted)
	del = decode[DeleteResponse](t, ts.do(t, http.MethodPost, "/gallery/delete", ImageIDsRequest{ImageIDs: []string{up.GalleryID}}))
	assert.Equal(t, 0, del.Deleted)

	gal := decode[GalleryResponse](t, ts.do(t, http.MethodGet, "/gallery", nil))
	assert.Empty(t, gal.Images)
	assert.Zero(t, gal.Total)
}

func TestCameras(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/cameras", RegisterRequest{Name: "Lobby"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields", decode[ErrorResponse](t, rec).Message)

	cam := decode[CameraResponse](t, ts.do(t, http.MethodPost, "/cameras", RegisterRequest{Name: "Lobby", Location: "Floor 1", APIKey: "k"}))
	require.True(t, cam.Success)
	assert.True(t, cam.Camera.Active)

	rec = ts.do(t, http.MethodPatch, "/cameras/"+cam.Camera.ID+"/toggle", map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[CameraResponse](t, rec).Camera.Active)

	rec = ts.do(t, http.MethodPatch, "/cameras/missing/toggle", map[string]bool{"active": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Camera not found", decode[ErrorResponse](t, rec).Message)

	rec = ts.do(t, http.MethodDelete, "/cameras/"+cam.Camera.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Camera deleted", decode[MessageResponse](t, rec).Message)

	rec = ts.do(t, http.MethodDelete, "/cameras/"+cam.Camera.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearImages(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, ts.upload(t, "", true).Code)
	}

	resp := decode[ClearResponse](t, ts.do(t, http.MethodPost, "/clear-images", nil))
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Deleted)
	assert.Equal(t, "Cleared 3 images", resp.Message)
	assert.Equal(t, 0, decode[CountResponse](t, ts.do(t, http.MethodGet, "/count", nil)).TotalCount)
}

func TestImagesAndDownload(t *testing.T) {
	ts := newTestServer(t)
	up := decode[UploadResponse](t, ts.upload(t, "", true))

	rec := ts.do(t, http.MethodGet, "/images/"+up.GalleryID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, jpegBytes, rec.Body.Bytes())
	assert.Empty(t, rec.Header().Get("Content-Disposition"))

	rec = ts.do(t, http.MethodGet, "/download/"+up.GalleryID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="`+up.GalleryID+`"`, rec.Header().Get("Content-Disposition"))

	rec = ts.do(t, http.MethodGet, "/download/capture-1.jpg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"File not found"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/images/capture-1.jpg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/images/..%2Fgallery-data.json", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	ts.do(t, http.MethodGet, "/count", nil)
	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `smilewall_requests_total{endpoint="/count",status="2xx"}`)
}

func TestWebsocket_InitialCountThenNewSmile(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/test-smile", nil)

	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() models.Event {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var e models.Event
		require.NoError(t, json.Unmarshal(data, &e))
		return e
	}

	first := read()
	assert.Equal(t, models.EventInitialCount, first.Event)
	assert.Equal(t, 1, first.TotalCount)

	resp, err := http.Post(srv.URL+"/test-smile", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	second := read()
	assert.Equal(t, models.EventNewSmile, second.Event)
	assert.Equal(t, 2, second.TotalCount)
	assert.Equal(t, baseURL+"/images/test-2.jpg", second.Image)
	assert.Nil(t, second.Camera)
}
