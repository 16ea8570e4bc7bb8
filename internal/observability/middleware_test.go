package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/danmuck/lagom/internal/testutil/testlog"
)

func newTestRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	RegisterMetrics()
	r := gin.New()
	r.Use(RequestID())
	r.Use(RequestLogger(zerolog.New(buf)))
	r.Use(RequestMetricsMiddleware("mw-test"))
	r.GET("/participants/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestRequestIDAssignedAndPropagated(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := newTestRouter(&buf)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/participants/a", nil))
	generated := rr.Header().Get(HeaderRequestID)
	if generated == "" {
		t.Fatalf("expected generated request id")
	}
	if !strings.Contains(buf.String(), generated) {
		t.Fatalf("request id missing from log: %s", buf.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/participants/b", nil)
	req.Header.Set(HeaderRequestID, "caller-7")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if got := rr.Header().Get(HeaderRequestID); got != "caller-7" {
		t.Fatalf("expected caller id propagated, got %q", got)
	}
}

func TestRequestMetricsUseRouteTemplate(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := newTestRouter(&buf)

	for _, path := range []string{"/participants/a", "/participants/b", "/nowhere/1", "/nowhere/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	routed := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "/participants/:id", "204"))
	if routed != 2 {
		t.Fatalf("expected 2 routed requests, got %v", routed)
	}
	unmatched := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "unmatched", "404"))
	if unmatched != 2 {
		t.Fatalf("expected 2 unmatched requests, got %v", unmatched)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Fatalf("404s should log at warn: %s", buf.String())
	}
}
