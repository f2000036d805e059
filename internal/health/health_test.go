package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type stubRegistry struct {
	err   error
	count int
}

func (s stubRegistry) Ping(context.Context) error {
	return s.err
}

func (s stubRegistry) Count() int {
	return s.count
}

func serve(t *testing.T, registry RegistryChecker) *httptest.ResponseRecorder {
	t.Helper()

	logger, _ := logtest.NewNullLogger()
	e := echo.New()
	NewHandler(registry, logrus.NewEntry(logger)).Register(e)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}

	return rr
}

func TestHealthHandlerOK(t *testing.T) {
	rr := serve(t, stubRegistry{count: 3})

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"ok","monitored_groups":3}` {
		t.Fatalf("unexpected body: %s", body)
	}

	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}
}

func TestHealthHandlerRegistryError(t *testing.T) {
	rr := serve(t, stubRegistry{err: errors.New("disk gone")})

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"degraded","registry":"error"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHealthHandlerMissingRegistry(t *testing.T) {
	rr := serve(t, nil)

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"degraded","registry":"error"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}
