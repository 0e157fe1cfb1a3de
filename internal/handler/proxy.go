package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/model"
	"mirror-proxy-go/internal/rewrite"
	"mirror-proxy-go/internal/service"
)

// internalErrorBody is the only body sent for upstream and body failures.
const internalErrorBody = "Internal Server Error"

// ProxyHandler hands every mirrored path to the proxy pipeline.
type ProxyHandler struct {
	service        *service.ProxyService
	trustForwarded bool
	logger         *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:        svc,
		trustForwarded: cfg.Policy.TrustForwardedProto,
		logger:         logger.With("component", "proxy_handler"),
	}
}

// Handle runs the request through the pipeline and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		URL:    inboundURL(c, h.trustForwarded),
		Header: req.Header,
		Body:   req.Body,
	}

	resp, err := h.service.Handle(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent, so a failed copy can only truncate the
	// response. Log it and move on.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// inboundURL reconstructs the absolute URL the caller requested. Forwarded
// scheme headers are only honored when trustForwarded is set, since any
// client can send them.
func inboundURL(c echo.Context, trustForwarded bool) *url.URL {
	req := c.Request()

	scheme := "http"
	switch {
	case req.TLS != nil:
		scheme = "https"
	case trustForwarded:
		scheme = c.Scheme()
	}

	return &url.URL{
		Scheme:   scheme,
		Host:     req.Host,
		Path:     req.URL.Path,
		RawPath:  req.URL.RawPath,
		RawQuery: req.URL.RawQuery,
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"kind", failureKind(err),
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	return c.String(http.StatusInternalServerError, internalErrorBody)
}

// failureKind classifies err for logs only. Callers always see the same 500.
func failureKind(err error) string {
	if errors.Is(err, rewrite.ErrBodyTooLarge) {
		return "body_too_large"
	}
	if errors.Is(err, service.ErrMalformedResponse) {
		return "malformed_body"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "connection"
	}

	return "other"
}
