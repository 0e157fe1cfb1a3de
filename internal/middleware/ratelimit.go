package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter returns a per-caller rate limiting middleware. Callers are
// identified by ipHeader when the edge sets it, otherwise by echo's RealIP.
func RateLimiter(rps float64, ipHeader string) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(rps))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return callerID(c, ipHeader), nil
		},
	})
}

func callerID(c echo.Context, ipHeader string) string {
	if ipHeader != "" {
		if ip := strings.TrimSpace(c.Request().Header.Get(ipHeader)); ip != "" {
			return ip
		}
	}
	return c.RealIP()
}
