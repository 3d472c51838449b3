package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/logutil"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type stubAnalyzer struct {
	mu    sync.Mutex
	names []string
	text  string
	err   error
}

func (s *stubAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (string, error) {
	name := req.DisplayName
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return "Analysis for @" + name + ":\n\n" + s.text, nil
}

func newTestServer(an domain.Analyzer, maxUpload int64) *Server {
	return New(Config{
		MaxUploadBytes: maxUpload,
		Analyzer:       an,
		Version:        "test",
		Logger:         logutil.Discard(),
	})
}

func uploadRequest(t *testing.T, field string, data []byte, name string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if data != nil {
		part, err := w.CreateFormFile(field, "chart.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	if name != "" {
		require.NoError(t, w.WriteField("name", name))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestAnalyze_Success(t *testing.T) {
	an := &stubAnalyzer{text: "✅ Confidence Level: High\n- Risk: Low"}
	srv := newTestServer(an, 0)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "image", pngBytes, "carol"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Analysis string `json:"analysis"`
		Metrics  struct {
			Confidence int `json:"confidence"`
			RiskLevel  int `json:"riskLevel"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Analysis, "Analysis for @carol:")
	assert.Equal(t, 90, resp.Metrics.Confidence)
	assert.Equal(t, 20, resp.Metrics.RiskLevel)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAnalyze_DefaultName(t *testing.T) {
	an := &stubAnalyzer{text: "ok"}
	rec := httptest.NewRecorder()
	newTestServer(an, 0).ServeHTTP(rec, uploadRequest(t, "image", pngBytes, ""))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"web"}, an.names)
}

func TestAnalyze_MissingImage(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubAnalyzer{}, 0).ServeHTTP(rec, uploadRequest(t, "file", pngBytes, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze_RejectsNonImage(t *testing.T) {
	an := &stubAnalyzer{}
	rec := httptest.NewRecorder()
	newTestServer(an, 0).ServeHTTP(rec, uploadRequest(t, "image", []byte("%PDF-1.4 not a chart"), ""))

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, an.names)
}

func TestAnalyze_RejectsOversizedUpload(t *testing.T) {
	an := &stubAnalyzer{}
	big := append(append([]byte{}, pngBytes...), make([]byte, 200)...)

	rec := httptest.NewRecorder()
	newTestServer(an, 64).ServeHTTP(rec, uploadRequest(t, "image", big, ""))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, an.names)
}

func TestAnalyze_ProviderFailure(t *testing.T) {
	an := &stubAnalyzer{err: &domain.ProviderError{Op: "chat", StatusCode: 500}}
	rec := httptest.NewRecorder()
	newTestServer(an, 0).ServeHTTP(rec, uploadRequest(t, "image", pngBytes, ""))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, orchestrator.MsgAnalysisFailed, resp.Error)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubAnalyzer{}, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, rec.Body.String())
}

func TestMetrics_DisabledWithoutRegistry(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubAnalyzer{}, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Exposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := New(Config{
		Analyzer:   &stubAnalyzer{},
		Registerer: reg,
		Gatherer:   reg,
		Logger:     logutil.Discard(),
	})

	srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chartbot_http_requests_total")
}

func TestAnalyze_BodyLimitUsesErrorShape(t *testing.T) {
	an := &stubAnalyzer{}
	big := append(append([]byte{}, pngBytes...), make([]byte, 256<<10)...)

	rec := httptest.NewRecorder()
	newTestServer(an, 64).ServeHTTP(rec, uploadRequest(t, "image", big, ""))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"File is too large"}`, rec.Body.String())
	assert.Empty(t, an.names)
}

func TestUnknownRoute_UsesErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubAnalyzer{}, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not Found"}`, rec.Body.String())
}
