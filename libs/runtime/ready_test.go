package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadyz_OptionalFailureIsDegraded(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "store", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Optional: true, Check: func(context.Context) error { return errors.New("dial failed") }},
	)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if !strings.HasPrefix(rw.Body.String(), "degraded: kafka") {
		t.Fatalf("unexpected body %q", rw.Body.String())
	}
}

func TestReadyz_RequiredFailure(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "store", Check: func(context.Context) error { return errors.New("down") }},
	)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN").String() != "WARN" {
		t.Fatalf("expected warn level")
	}
	if ParseLevel("nonsense").String() != "INFO" {
		t.Fatalf("expected info fallback")
	}
}
