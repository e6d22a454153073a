package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/fieldkit-io/btprovd/internal/gattsvc"
)

type stubReporter struct{ state gattsvc.BringupState }

func (s stubReporter) State() gattsvc.BringupState { return s.state }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestHandleHealth(t *testing.T) {
	srv := New("127.0.0.1:0", stubReporter{state: gattsvc.StateReady}, nil, testLogger())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestHandleStateReportsCurrentState(t *testing.T) {
	srv := New("127.0.0.1:0", stubReporter{state: gattsvc.StateWaiting}, nil, testLogger())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/state", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["state"] != "WAITING" {
		t.Fatalf("expected state WAITING, got %v", body["state"])
	}
}

func TestHandleSessionsWithNilAudit(t *testing.T) {
	srv := New("127.0.0.1:0", stubReporter{}, nil, testLogger())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := body["connect_attempts"]; !ok {
		t.Fatalf("expected connect_attempts key in response")
	}
}

func TestUnknownRouteReturns404JSON(t *testing.T) {
	srv := New("127.0.0.1:0", stubReporter{}, nil, testLogger())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCORSHeadersPresent(t *testing.T) {
	srv := New("127.0.0.1:0", stubReporter{}, nil, testLogger())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected permissive CORS header on response")
	}
}
