package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/botpipe/internal/runtime/event"
	"github.com/drblury/botpipe/internal/runtime/jsoncodec"
)

func TestAdminHealthz(t *testing.T) {
	svc := newTestService(t, testConfig(), newCountingHandler())
	handler := svc.AdminHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no workers before Start")

	stop := runService(t, svc)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "4/4 workers live")
	require.NoError(t, stop())
}

func TestAdminStats(t *testing.T) {
	svc := newTestService(t, testConfig(), newCountingHandler())
	require.NoError(t, svc.Submit(context.Background(), event.New("evt", 1, nil)))

	rec := httptest.NewRecorder()
	svc.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats Stats
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.QueueDepth)
	assert.Equal(t, 100, stats.QueueCapacity)
	assert.Equal(t, uint64(1), stats.Submitted)
}

func TestAdminStatsCORS(t *testing.T) {
	conf := testConfig()
	conf.AdminCORSAllowedOrigins = []string{"https://ops.example.com"}
	svc := newTestService(t, conf, newCountingHandler())
	handler := svc.AdminHandler()

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminMetrics(t *testing.T) {
	svc := newTestService(t, testConfig(), newCountingHandler())
	require.NoError(t, svc.Submit(context.Background(), event.New("evt", 1, nil)))

	srv := httptest.NewServer(svc.AdminHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "botpipe_pipeline_events_submitted_total 1"), text)
	assert.Contains(t, text, "botpipe_pipeline_queue_depth 1")
}

type registererOnly struct {
	prometheus.Registerer
}

func TestGathererFollowsRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := newTestService(t, testConfig(), newCountingHandler(), ServiceDependencies{Registerer: reg})
	assert.Same(t, reg, svc.Gatherer())

	families, err := svc.Gatherer().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "botpipe_pipeline_queue_depth")

	plain := newTestService(t, testConfig(), newCountingHandler(), ServiceDependencies{
		Registerer: registererOnly{prometheus.NewRegistry()},
	})
	assert.Equal(t, prometheus.DefaultGatherer, plain.Gatherer())
}
