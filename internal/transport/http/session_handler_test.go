package http

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polarcli/internal/config"
	apierrors "polarcli/internal/errors"
	"polarcli/internal/exporter"
	"polarcli/internal/files"
	"polarcli/internal/ingest"
	"polarcli/internal/middleware"
	"polarcli/internal/services"
	"polarcli/internal/shared/testutil"
	"polarcli/internal/stokes"
	"polarcli/pkg/contracts/domain"
)

func newTestRouter(t *testing.T) (http.Handler, *services.SessionService) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	paths := &config.Paths{UploadsDir: filepath.Join(t.TempDir(), "uploads")}
	resolver := ingest.NewResolver(ingest.DefaultOptions(), ingest.WithLogger(logger), ingest.WithDetector(nil))
	discovery := files.NewDiscovery("", nil)
	svc := services.NewSessionService(resolver, stokes.DefaultOptions(), files.NewManager(paths, logger), 1<<20, logger,
		services.WithUploadFilter(discovery.IsInput))
	t.Cleanup(svc.Close)

	eh := apierrors.NewErrorHandler(logger, false)
	h := NewSessionHandler(svc, SessionHandlerOptions{IncludeProperties: true}, logger, eh)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Mount("/api/v1/sessions", h.Routes())
	return r, svc
}

func uploadRequest(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func createSession(t *testing.T, h http.Handler, data []byte) string {
	t.Helper()
	rec := serve(h, uploadRequest(t, "file", "run1.txt", data))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/api/v1/sessions/"+id, rec.Header().Get("Location"))
	return id
}

func TestSessionHandler_Workflow(t *testing.T) {
	h, svc := newTestRouter(t)
	data := testutil.NewExportFixture().AddSamples(testutil.StandardSamples()...).Bytes()
	id := createSession(t, h, data)
	base := "/api/v1/sessions/" + id

	rec := serve(h, httptest.NewRequest(http.MethodGet, base+"/properties", nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "properties before convert")
	assert.Equal(t, apierrors.TypeNoData, decode(t, rec)["type"])

	rec = serve(h, httptest.NewRequest(http.MethodPost, base+"/convert", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 5, body["count"])
	rows := body["rows"].([]any)
	require.Len(t, rows, 5)
	first := rows[0].(map[string]any)
	assert.EqualValues(t, 1, first["no"])
	assert.EqualValues(t, 1, first["s0"])

	rec = serve(h, httptest.NewRequest(http.MethodGet, base+"/properties", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decode(t, rec)["count"])

	rec = serve(h, httptest.NewRequest(http.MethodGet, base+"/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decode(t, rec)["rows"])

	rec = serve(h, httptest.NewRequest(http.MethodGet, base+"/summary?format=text", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "S0")

	rec = serve(h, httptest.NewRequest(http.MethodGet, base+"/roundtrip?tolerance=0.001", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, true, body["passed"])
	assert.EqualValues(t, 0.001, body["tolerance"])

	rec = serve(h, httptest.NewRequest(http.MethodGet, base+"/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "run1_stokes.csv", params["filename"])
	content := rec.Body.Bytes()
	require.True(t, bytes.HasPrefix(content, exporter.BOM))
	table, err := csv.NewReader(bytes.NewReader(content[len(exporter.BOM):])).ReadAll()
	require.NoError(t, err)
	assert.Len(t, table, 6)
	assert.Equal(t, append(append([]string{}, domain.StokesHeaders...), domain.PropertyHeaders...), table[0])

	rec = serve(h, httptest.NewRequest(http.MethodGet, base+"/export?properties=false", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	table, err = csv.NewReader(bytes.NewReader(rec.Body.Bytes()[len(exporter.BOM):])).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, domain.StokesHeaders, table[0])

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = serve(h, httptest.NewRequest(http.MethodDelete, base, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, svc.Count())

	rec = serve(h, httptest.NewRequest(http.MethodGet, base, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apierrors.TypeNotFound, decode(t, rec)["type"])
}

func TestSessionHandler_NonFiniteRowsRenderAsNull(t *testing.T) {
	h, _ := newTestRouter(t)
	data := testutil.NewExportFixture().
		AddSamples(testutil.ReferenceSample, testutil.Sample{No: 2, Intensity: 50, DOP: 80, Azimuth: 10, PER: -2}).
		Bytes()
	id := createSession(t, h, data)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/convert", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["degenerate_rows"])
	second := body["rows"].([]any)[1].(map[string]any)
	assert.Nil(t, second["s1"])
	assert.Contains(t, second, "s1")
}

func TestSessionHandler_CreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		wantStatus int
		wantType   string
	}{
		{
			name: "not multipart",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("{}"))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeValidation,
		},
		{
			name: "missing file field",
			request: func(t *testing.T) *http.Request {
				return uploadRequest(t, "other", "run1.txt", []byte("x"))
			},
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeValidation,
		},
		{
			name: "unsupported extension",
			request: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "notes.pdf", []byte("x"))
			},
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeValidation,
		},
		{
			name: "missing column",
			request: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "broken.txt", []byte("banner\nbanner\nNo\tfoo\n1\t2\n"))
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   apierrors.TypeMissingColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc := newTestRouter(t)
			rec := serve(h, tt.request(t))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantType, decode(t, rec)["type"])
			assert.Zero(t, svc.Count())
		})
	}
}

func TestSessionHandler_QueryValidation(t *testing.T) {
	h, _ := newTestRouter(t)
	id := createSession(t, h, testutil.NewExportFixture().AddSamples(testutil.ReferenceSample).Bytes())
	base := "/api/v1/sessions/" + id

	for _, path := range []string{
		base + "/summary?format=xml",
		base + "/roundtrip?tolerance=abc",
		base + "/roundtrip?tolerance=5",
		base + "/export?properties=maybe",
	} {
		rec := serve(h, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
