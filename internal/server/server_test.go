package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/explorer"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
)

type readerMock struct {
	archives  []explorer.Archive
	detail    models.ArchiveDetail
	assets    []explorer.AssetView
	asset     explorer.AssetView
	index     models.Index
	err       error
	lastKey   string
	lastQuery string
}

func (m *readerMock) Archive(id string) (models.ArchiveDetail, error) {
	if id != m.detail.ID {
		return models.ArchiveDetail{}, fmt.Errorf("archive %s: %w", id, explorer.ErrNotFound)
	}
	return m.detail, m.err
}

func (m *readerMock) Archives() ([]explorer.Archive, error) { return m.archives, m.err }

func (m *readerMock) ArchiveAssets(id string) ([]explorer.AssetView, error) {
	if id != m.detail.ID {
		return nil, fmt.Errorf("archive %s: %w", id, explorer.ErrNotFound)
	}
	return m.assets, m.err
}

func (m *readerMock) Asset(key string) (explorer.AssetView, error) {
	m.lastKey = key
	return m.asset, m.err
}

func (m *readerMock) Index() (models.Index, error) { return m.index, m.err }

func (m *readerMock) Stats() (explorer.Stats, error) {
	return explorer.Stats{TotalArchives: len(m.archives)}, m.err
}

func (m *readerMock) Search(term string) ([]explorer.Archive, error) {
	m.lastQuery = term
	return m.archives, m.err
}

func newTestServer(t *testing.T, reader archiveReader) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := NewServer(config.Config{}, reader, zaptest.NewLogger(t).Sugar(), metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(w, req)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &readerMock{})
	w, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"ok"`, string(body["status"]))
}

func TestListArchivesSearchesAndSorts(t *testing.T) {
	mock := &readerMock{archives: []explorer.Archive{
		{ID: "A", Name: "Rock Art"},
		{ID: "B", Name: "Basketry"},
	}}
	s := newTestServer(t, mock)

	w, body := get(t, s, "/api/archives?q=art&sort=name&dir=asc")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "art", mock.lastQuery)

	var archives []explorer.Archive
	require.NoError(t, json.Unmarshal(body["data"], &archives))
	require.Len(t, archives, 2)
	assert.Equal(t, "B", archives[0].ID)
}

func TestListArchivesRejectsUnknownSort(t *testing.T) {
	s := newTestServer(t, &readerMock{})
	w, body := get(t, s, "/api/archives?sort=size")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var apiErr APIError
	require.NoError(t, json.Unmarshal(body["error"], &apiErr))
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
}

func TestGetArchiveReturnsPayload(t *testing.T) {
	mock := &readerMock{detail: models.ArchiveDetail{ID: "A", Raw: []byte(`{"id":"A","custom":true}`)}}
	s := newTestServer(t, mock)

	w, body := get(t, s, "/api/archives/A")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"A","custom":true}`, string(body["data"]))

	w, body = get(t, s, "/api/archives/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var apiErr APIError
	require.NoError(t, json.Unmarshal(body["error"], &apiErr))
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestArchiveAssets(t *testing.T) {
	mock := &readerMock{
		detail: models.ArchiveDetail{ID: "A"},
		assets: []explorer.AssetView{{ID: "A x1.jpg", Name: "x1.jpg"}},
	}
	s := newTestServer(t, mock)

	w, body := get(t, s, "/api/archives/A/assets")
	require.Equal(t, http.StatusOK, w.Code)
	var views []explorer.AssetView
	require.NoError(t, json.Unmarshal(body["data"], &views))
	require.Len(t, views, 1)
	assert.Equal(t, "A x1.jpg", views[0].ID)
}

func TestGetAssetBuildsCombinedKey(t *testing.T) {
	mock := &readerMock{asset: explorer.AssetView{ID: "A x1.jpg"}}
	s := newTestServer(t, mock)

	w, _ := get(t, s, "/api/assets/A/x1.jpg")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "A x1.jpg", mock.lastKey)
}

func TestInternalErrorsAreMasked(t *testing.T) {
	s := newTestServer(t, &readerMock{err: errors.New("disk on fire")})
	w, body := get(t, s, "/api/stats")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var apiErr APIError
	require.NoError(t, json.Unmarshal(body["error"], &apiErr))
	assert.Equal(t, "internal server error", apiErr.Message)
}

func TestIndexEndpoint(t *testing.T) {
	index := models.NewIndex()
	index.Metadata.TotalArchives = 3
	s := newTestServer(t, &readerMock{index: index})

	w, body := get(t, s, "/api/index")
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Index
	require.NoError(t, json.Unmarshal(body["data"], &got))
	assert.Equal(t, 3, got.Metadata.TotalArchives)
}
