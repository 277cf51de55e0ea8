package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newGuardedRouter(secret string, hits *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequireEngineSecret(secret))
	engine.POST("/guarded", func(c *gin.Context) {
		*hits++
		Ok(c, gin.H{"ok": true}, nil)
	})
	return engine
}

func TestRequireEngineSecretRejectsMissingHeader(t *testing.T) {
	hits := 0
	engine := newGuardedRouter("s3cret", &hits)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code=%d want 401", w.Code)
	}
	if hits != 0 {
		t.Fatalf("guarded handler must not run without the secret")
	}
}

func TestRequireEngineSecretRejectsWrongSecret(t *testing.T) {
	hits := 0
	engine := newGuardedRouter("s3cret", &hits)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set("X-Engine-Secret", "guess")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code=%d want 401", w.Code)
	}
	if hits != 0 {
		t.Fatalf("guarded handler must not run with a wrong secret")
	}
}

func TestRequireEngineSecretAllowsCorrectSecret(t *testing.T) {
	hits := 0
	engine := newGuardedRouter("s3cret", &hits)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set("X-Engine-Secret", "s3cret")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code=%d want 200", w.Code)
	}
	if hits != 1 {
		t.Fatalf("hits=%d want 1", hits)
	}
}

func TestRequireEngineSecretUnconfigured(t *testing.T) {
	hits := 0
	engine := newGuardedRouter("", &hits)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.Header.Set("X-Engine-Secret", "anything")
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d want 503", w.Code)
	}
	if hits != 0 {
		t.Fatalf("unconfigured secret must disable guarded routes")
	}
}
