// README: Handler tests for request validation and error mapping.
package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/handlers"
	"dispatch/internal/modules/order"
)

// buildTestRouter wires a minimal Gin engine with the order handler. The
// service carries no store; every request below fails validation before any
// storage call.
func buildTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := order.NewService(nil, nil, nil, nil, 2*time.Minute, nil)
	r := gin.New()
	h := handlers.NewOrderHandler(svc)
	r.POST("/api/orders", h.Create)
	r.GET("/api/orders/:id", h.Get)
	r.POST("/api/orders/:id/publish", h.Publish)
	r.POST("/api/orders/:id/cancel", h.Cancel)
	return r
}

func doRequest(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreate_MissingFields(t *testing.T) {
	r := buildTestRouter()
	w := doRequest(r, http.MethodPost, "/api/orders", map[string]any{
		"client_id": 42,
		"kind":      "ride",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreate_UnknownKind(t *testing.T) {
	r := buildTestRouter()
	w := doRequest(r, http.MethodPost, "/api/orders", map[string]any{
		"client_id": 42,
		"kind":      "boat",
		"city":      "almaty",
		"pickup":    "Абая 10",
		"dropoff":   "Достык 91",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreate_InvalidJSON(t *testing.T) {
	r := buildTestRouter()
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGet_InvalidID(t *testing.T) {
	r := buildTestRouter()
	w := doRequest(r, http.MethodGet, "/api/orders/notanumber", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPublish_InvalidID(t *testing.T) {
	r := buildTestRouter()
	w := doRequest(r, http.MethodPost, "/api/orders/abc/publish", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCancel_MissingClientID(t *testing.T) {
	r := buildTestRouter()
	w := doRequest(r, http.MethodPost, "/api/orders/7/cancel", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
