package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndependentRegistries(t *testing.T) {
	// Two collectors must not collide on metric names.
	a := NewMetrics()
	b := NewMetrics()
	a.ActivationsTotal.Inc()
	b.ActivationsTotal.Inc()
}

func TestLifecycleHooks(t *testing.T) {
	m := NewMetrics()

	m.ExtensionActivated("fmt")
	m.ExtensionActivated("lint")
	m.ExtensionDeactivated("fmt")
	m.ExtensionError("lint")
	m.APICall("files.read", true, 3*time.Millisecond)
	m.APICall("files.read", false, time.Millisecond)
	m.RecordWSMessage("out", "event")
	m.IncWSConnections()
	m.DecWSConnections()
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()
	m.ExtensionActivated("fmt")

	router := gin.New()
	router.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "host_extensions_active")
	assert.Contains(t, w.Body.String(), "host_extension_activations_total")
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "host_http_requests_total")
}
