package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRateLimiter_Enabled(t *testing.T) {
	e := echo.New()

	// 1 request per second, burst of 1: the second request should be rejected.
	e.Use(RateLimiter(1, "CF-Connecting-IP"))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	send := func(callerIP string) int {
		req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		req.Header.Set("CF-Connecting-IP", callerIP)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("203.0.113.1"); code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", code, http.StatusOK)
	}

	got429 := false
	for i := 0; i < 10; i++ {
		if send("203.0.113.1") == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}

	// A different caller behind the same edge has its own bucket.
	if code := send("203.0.113.2"); code != http.StatusOK {
		t.Errorf("other caller: status = %d, want %d", code, http.StatusOK)
	}
}

func TestCallerID(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "198.51.100.7:5555"
	c := e.NewContext(req, httptest.NewRecorder())
	if got := callerID(c, "CF-Connecting-IP"); got != "198.51.100.7" {
		t.Errorf("callerID() without header = %q, want %q", got, "198.51.100.7")
	}

	req.Header.Set("CF-Connecting-IP", " 203.0.113.9 ")
	if got := callerID(c, "CF-Connecting-IP"); got != "203.0.113.9" {
		t.Errorf("callerID() with header = %q, want %q", got, "203.0.113.9")
	}
}
