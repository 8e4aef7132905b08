package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"hybrid-echo-go/internal/metrics"
)

// requestLabels returns the label sets of every hybrid_echo_http_requests_total series.
func requestLabels(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var out []map[string]string
	for _, f := range families {
		if f.GetName() != "hybrid_echo_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, labels)
		}
	}
	return out
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/echo", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	series := requestLabels(t, m)
	if len(series) != 1 {
		t.Fatalf("got %d series, want 1", len(series))
	}
	if series[0]["path_prefix"] != "/echo" || series[0]["method"] != "POST" || series[0]["status_code"] != "200" {
		t.Errorf("labels = %v, want path_prefix=/echo method=POST status_code=200", series[0])
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "hybrid_echo_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected hybrid_echo_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.POST("/echo", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported")
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	for _, labels := range requestLabels(t, m) {
		if labels["path_prefix"] == "/echo" {
			if labels["status_code"] != "415" {
				t.Errorf("status_code = %q, want %q", labels["status_code"], "415")
			}
			return
		}
	}
	t.Error("expected hybrid_echo_http_requests_total with path_prefix=/echo")
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/echo", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("XYZZY", "/echo", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	for _, labels := range requestLabels(t, m) {
		if labels["path_prefix"] == "/echo" {
			if labels["method"] != "other" {
				t.Errorf("method = %q, want %q", labels["method"], "other")
			}
			return
		}
	}
	t.Error("expected hybrid_echo_http_requests_total with path_prefix=/echo and method=other")
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	for _, labels := range requestLabels(t, m) {
		if labels["path_prefix"] == "other" && labels["method"] == "GET" {
			if labels["status_code"] != "404" {
				t.Errorf("status_code = %q, want %q", labels["status_code"], "404")
			}
			return
		}
	}
	t.Error("expected hybrid_echo_http_requests_total with path_prefix=other, method=GET, status_code=404")
}

func TestMetricsMiddleware_CustomScrapePath(t *testing.T) {
	m := metrics.New(metrics.WithScrapePath("/internal/prom"))

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/internal/prom", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/internal/prom", http.NoBody))

	series := requestLabels(t, m)
	if len(series) != 1 {
		t.Fatalf("got %d series, want 1", len(series))
	}
	if got := series[0]["path_prefix"]; got != "/internal/prom" {
		t.Errorf("path_prefix = %q, want /internal/prom", got)
	}
}
