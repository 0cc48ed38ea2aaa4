package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/hosts/{host}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
		r.Get("/progress", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		})
	})
	return r
}

// durationSamples reads the sample count of one route's latency histogram.
func durationSamples(t *testing.T, method, route string) uint64 {
	t.Helper()
	h, ok := httpRequestDurationSeconds.WithLabelValues(method, route).(prometheus.Histogram)
	require.True(t, ok)
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	Init()
	router := statusRouter()

	accepted := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202"))
	hostSamples := durationSamples(t, http.MethodGet, "/v1/hosts/{host}")

	for _, host := range []string{"smiledental.com", "brightortho.net"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/hosts/"+host, nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	assert.InDelta(t, accepted+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202")), 0.001)
	assert.Equal(t, hostSamples+2, durationSamples(t, http.MethodGet, "/v1/hosts/{host}"),
		"both hosts share the route pattern")
}

func TestMiddlewareDefaultsStatusOK(t *testing.T) {
	Init()
	router := statusRouter()

	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, ok+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 0.001)
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	Init()
	router := statusRouter()

	notFound := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))
	unknown := durationSamples(t, http.MethodGet, "unknown")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v2/nothing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.InDelta(t, notFound+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")), 0.001)
	assert.Equal(t, unknown+1, durationSamples(t, http.MethodGet, "unknown"))
}
