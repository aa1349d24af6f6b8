// internal/middleware/middleware_test.go
package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"groundlink/internal/config"
	"groundlink/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(logger *zap.Logger, origins ...string) *gin.Engine {
	engine := gin.New()
	engine.Use(RecoveryMiddleware(logger))
	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware(utils.NewServiceLogger(logger, "test")))
	engine.Use(CORSMiddleware(&config.SecurityConfig{AllowedOrigins: origins}))

	engine.GET("/echo", func(c *gin.Context) {
		utils.SuccessResponse(c, http.StatusOK, "ok", nil)
	})
	engine.GET("/panic", func(c *gin.Context) {
		panic("link exploded")
	})
	engine.POST("/interfaces/:name/write_raw", func(c *gin.Context) {
		panic("stream closed twice")
	})
	return engine
}

func Test_RequestID(t *testing.T) {
	engine := newEngine(zap.NewNop())

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/echo", nil))
	require.Equal(t, http.StatusOK, w.Code)
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, generated, resp.RequestID)

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(RequestIDHeader, "pass-1234")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "pass-1234", w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(RequestIDHeader, "bad\x01id")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func Test_ValidRequestID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"pass-1234", true},
		{"", false},
		{"has space", false},
		{"line\nbreak", false},
		{strings.Repeat("a", maxRequestIDLength), true},
		{strings.Repeat("a", maxRequestIDLength+1), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validRequestID(tt.id), "%q", tt.id)
	}
}

func Test_Recovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	engine := newEngine(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(RequestIDHeader, "boom-1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", resp.Error.Code)
	assert.Equal(t, "boom-1", resp.RequestID)

	panics := logs.FilterMessage("Panic recovered").All()
	require.Len(t, panics, 1)
	assert.Equal(t, "boom-1", panics[0].ContextMap()["request_id"])
	assert.Equal(t, "/panic", panics[0].ContextMap()["route"])
}

func Test_RecoveryNamesInterface(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	engine := newEngine(zap.New(core))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/interfaces/inst_int/write_raw?target=inst", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	panics := logs.FilterMessage("Panic recovered").All()
	require.Len(t, panics, 1)
	fields := panics[0].ContextMap()
	assert.Equal(t, "/interfaces/:name/write_raw", fields["route"])
	assert.Equal(t, "INST_INT", fields["interface"])
	assert.Equal(t, "INST", fields["target"])
}

func Test_LoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	engine := newEngine(zap.New(core))

	req := httptest.NewRequest(http.MethodGet, "/echo?target=INST", nil)
	req.Header.Set(RequestIDHeader, "log-1")
	engine.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/echo?target=INST", fields["path"])
	assert.Equal(t, "log-1", fields["request_id"])
	assert.EqualValues(t, http.StatusOK, fields["status_code"])
}

func Test_CORS(t *testing.T) {
	engine := newEngine(zap.NewNop(), "*")
	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set("Origin", "http://console.local")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	engine = newEngine(zap.NewNop(), "http://console.local")
	req = httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set("Origin", "http://console.local")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://console.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set("Origin", "http://elsewhere.local")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func Test_CORSPreflight(t *testing.T) {
	engine := gin.New()
	engine.Use(CORSMiddleware(&config.SecurityConfig{
		AllowedOrigins: []string{"http://console.local"},
		CORSMaxAge:     time.Hour,
	}))
	engine.GET("/echo", func(c *gin.Context) {})

	req := httptest.NewRequest(http.MethodOptions, "/echo", nil)
	req.Header.Set("Origin", "http://console.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
