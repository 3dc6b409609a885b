package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// hostRouter mimics the extension host surface: a read endpoint and a
// lifecycle mutation, which is what the middleware chain fronts.
func hostRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw...)
	router.GET("/extensions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"extensions": []string{}})
	})
	router.POST("/extensions/:id/activate", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"extension_id": c.Param("id")})
	})
	return router
}

func get(router *gin.Engine, origin, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/extensions", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if addr != "" {
		req.RemoteAddr = addr
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORSAllowsEditorOrigin(t *testing.T) {
	router := hostRouter(CORS(DefaultCORSConfig()))

	// The browser editor is served from a dev origin during development.
	w := get(router, "http://localhost:5173", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))

	// Same-origin requests carry no Origin header and get no CORS headers.
	w = get(router, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	router := hostRouter(CORS(DefaultCORSConfig()))

	req := httptest.NewRequest("OPTIONS", "/extensions/fmt/activate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://ide.example.com"}
	router := hostRouter(CORS(cfg))

	w := get(router, "https://ide.example.com", "")
	assert.Equal(t, "https://ide.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(router, "https://evil.example.com", "")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitPerClient(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping rate limit test in short mode")
	}

	router := hostRouter(RateLimit(RateLimitConfig{
		RequestsPerSecond: 2,
		Burst:             2,
	}))

	// Burst capacity, then the bucket runs dry.
	for i := 0; i < 2; i++ {
		w := get(router, "", "10.0.0.1:4000")
		assert.Equal(t, http.StatusOK, w.Code, "request %d within burst", i+1)
	}
	w := get(router, "", "10.0.0.1:4000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// A second editor session on another IP has its own bucket.
	w = get(router, "", "10.0.0.2:4000")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGlobalRateLimitSharedBucket(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping rate limit test in short mode")
	}

	router := hostRouter(GlobalRateLimit(RateLimitConfig{
		RequestsPerSecond: 2,
		Burst:             2,
	}))

	assert.Equal(t, http.StatusOK, get(router, "", "10.0.0.1:4000").Code)
	assert.Equal(t, http.StatusOK, get(router, "", "10.0.0.2:4000").Code)

	// The bucket is shared, so a third client is refused too.
	assert.Equal(t, http.StatusTooManyRequests, get(router, "", "10.0.0.3:4000").Code)
}

func TestDefaultCORSConfig(t *testing.T) {
	cfg := DefaultCORSConfig()

	assert.Contains(t, cfg.AllowOrigins, "*")
	assert.Contains(t, cfg.AllowMethods, "GET")
	assert.Contains(t, cfg.AllowMethods, "PUT")
	assert.Contains(t, cfg.AllowHeaders, "Content-Type")
	assert.Equal(t, 12*time.Hour, cfg.MaxAge)
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	assert.Equal(t, 100, cfg.RequestsPerSecond)
	assert.Equal(t, 200, cfg.Burst)
}

func BenchmarkRateLimit(b *testing.B) {
	router := hostRouter(RateLimit(DefaultRateLimitConfig()))

	req := httptest.NewRequest("GET", "/extensions", nil)
	req.RemoteAddr = "10.0.0.1:4000"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
