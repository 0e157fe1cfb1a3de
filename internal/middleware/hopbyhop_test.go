package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestStripHopByHop_Request(t *testing.T) {
	e := echo.New()
	e.Use(StripHopByHop())

	var got http.Header
	e.GET("/test", func(c echo.Context) error {
		got = c.Request().Header.Clone()
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Connection", "keep-alive, X-Session-Hint")
	req.Header.Set("X-Session-Hint", "abc")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Te", "trailers")
	req.Header.Set("Cookie", "a=b")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	for _, name := range []string{"Connection", "X-Session-Hint", "Proxy-Authorization", "Te"} {
		if v := got.Get(name); v != "" {
			t.Errorf("%s header should be stripped, got %q", name, v)
		}
	}
	if v := got.Get("Cookie"); v != "a=b" {
		t.Errorf("Cookie = %q, want %q", v, "a=b")
	}
}

func TestStripHopByHop_Response(t *testing.T) {
	e := echo.New()
	e.Use(StripHopByHop())
	e.GET("/test", func(c echo.Context) error {
		c.Response().Header().Set("Keep-Alive", "timeout=5")
		c.Response().Header().Set("Proxy-Authenticate", "Basic")
		c.Response().Header().Set("Cache-Control", "max-age=60")
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if v := rec.Header().Get("Keep-Alive"); v != "" {
		t.Errorf("Keep-Alive should be stripped, got %q", v)
	}
	if v := rec.Header().Get("Proxy-Authenticate"); v != "" {
		t.Errorf("Proxy-Authenticate should be stripped, got %q", v)
	}
	if v := rec.Header().Get("Cache-Control"); v != "max-age=60" {
		t.Errorf("Cache-Control = %q, want %q", v, "max-age=60")
	}
}
