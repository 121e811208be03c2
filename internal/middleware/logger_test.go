package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })

	cases := []struct {
		path  string
		level zapcore.Level
	}{
		{"/ok", zapcore.InfoLevel},
		{"/healthz", zapcore.DebugLevel},
		{"/boom", zapcore.ErrorLevel},
		{"/missing", zapcore.WarnLevel},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
	}

	entries := logs.All()
	if len(entries) != len(cases) {
		t.Fatalf("logged %d entries, want %d", len(entries), len(cases))
	}
	for i, tc := range cases {
		if entries[i].Level != tc.level {
			t.Errorf("%s logged at %s, want %s", tc.path, entries[i].Level, tc.level)
		}
		if got := entries[i].ContextMap()["path"]; got != tc.path {
			t.Errorf("path field = %v, want %s", got, tc.path)
		}
	}
}
