// Package service implements the request pipeline: policy evaluation,
// upstream forwarding, response header sanitization and HTML rewriting.
package service

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"mirror-proxy-go/internal/client"
	"mirror-proxy-go/internal/metrics"
	"mirror-proxy-go/internal/model"
	"mirror-proxy-go/internal/policy"
)

var (
	// ErrUpstreamFetch wraps transport failures talking to the upstream.
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrMalformedResponse wraps failures reading or decoding an upstream body.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// ProxyService runs each inbound request through the pipeline.
type ProxyService struct {
	client  *client.UpstreamClient
	policy  *policy.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(c *client.UpstreamClient, p *policy.Policy, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:  c,
		policy:  p,
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
	}
}

// Handle evaluates policy for pr and, when allowed, forwards it upstream and
// transforms the response. Denials and redirects are returned as responses;
// an error means the upstream could not be fetched or its body could not be
// read. The caller is responsible for closing the response body.
func (s *ProxyService) Handle(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	d := s.policy.Evaluate(pr)
	s.recordDecision(d)

	switch d.Kind {
	case model.DecisionDeny:
		s.logger.Debug("request denied",
			"reason", d.Reason,
			"status", d.StatusCode,
			"region", s.policy.Region(pr.Header),
			"path", pr.URL.Path,
		)
		return s.denyResponse(d), nil
	case model.DecisionRedirect:
		return redirectResponse(d), nil
	}

	resp, err := s.forward(pr, d.Upstream)
	if err != nil {
		return nil, err
	}

	SanitizeHeaders(resp.Header)

	return s.maybeRewrite(pr, d.Upstream, resp)
}

func (s *ProxyService) recordDecision(d model.Decision) {
	if s.metrics == nil {
		return
	}
	device := "unknown"
	if d.Kind == model.DecisionAllow {
		device = "desktop"
		if d.Mobile {
			device = "mobile"
		}
	}
	status := "0"
	if d.StatusCode != 0 {
		status = strconv.Itoa(d.StatusCode)
	}
	s.metrics.PolicyDecisions.WithLabelValues(d.Kind.String(), status, device).Inc()
}

func (s *ProxyService) denyResponse(d model.Decision) *model.ProxyResponse {
	resp := textResponse(d.StatusCode, d.Reason)
	if d.StatusCode == http.StatusMethodNotAllowed {
		resp.Header.Set("Allow", s.policy.AllowHeader())
	}
	return resp
}

func redirectResponse(d model.Decision) *model.ProxyResponse {
	resp := textResponse(d.StatusCode, "")
	resp.Header.Set("Location", d.Location)
	return resp
}

func textResponse(status int, body string) *model.ProxyResponse {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &model.ProxyResponse{
		StatusCode:   status,
		Header:       h,
		Body:         io.NopCloser(strings.NewReader(body)),
		Materialized: true,
	}
}
