package service

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"mirror-proxy-go/internal/metrics"
	"mirror-proxy-go/internal/model"
	"mirror-proxy-go/internal/rewrite"
)

// maybeRewrite buffers and rewrites HTML bodies. Every other body is returned
// as the upstream stream, unread.
func (s *ProxyService) maybeRewrite(pr *model.ProxyRequest, upstream string, resp *model.ProxyResponse) (*model.ProxyResponse, error) {
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") || !rewritable(pr.Method, resp.StatusCode, resp.Header) {
		return resp, nil
	}

	encoding := resp.Header.Get("Content-Encoding")
	if !rewrite.CanDecode(encoding) {
		s.logger.Warn("html body not rewritten: unsupported content encoding",
			"encoding", encoding,
			"path", pr.URL.Path,
		)
		s.recordRewrite(metrics.RewriteSkippedEncoding)
		return resp, nil
	}

	text, err := rewrite.ReadText(resp.Body, encoding, s.policy.MaxBodyBytes)
	_ = resp.Body.Close()
	if err != nil {
		s.recordRewrite(metrics.RewriteFailed)
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	rules := s.policy.RewriteRules.Resolve(upstream, pr.Host())
	text = rules.Apply(text)

	// The body is now identity-encoded text of a different length.
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.Body = io.NopCloser(strings.NewReader(text))
	resp.Materialized = true

	s.recordRewrite(metrics.RewriteApplied)
	return resp, nil
}

func (s *ProxyService) recordRewrite(result string) {
	if s.metrics != nil {
		s.metrics.BodyRewrites.WithLabelValues(result).Inc()
	}
}

// rewritable reports whether a response to method with status carries a
// complete body that can be rewritten. Partial content is left alone since
// Content-Range describes the upstream bytes.
func rewritable(method string, status int, h http.Header) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case status >= 100 && status < 200, status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	case status == http.StatusPartialContent, h.Get("Content-Range") != "":
		return false
	}
	return true
}
