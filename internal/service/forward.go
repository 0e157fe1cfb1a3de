package service

import (
	"fmt"
	"net/http"
	"net/url"

	"mirror-proxy-go/internal/model"
)

// forward issues exactly one request to upstream. There are no retries.
func (s *ProxyService) forward(pr *model.ProxyRequest, upstream string) (*model.ProxyResponse, error) {
	target := s.buildUpstreamURL(pr.URL, upstream)
	header := buildUpstreamHeader(pr.Header, target)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"upstream", upstream,
		"path", pr.URL.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target.String(), upstream, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}
	return resp, nil
}

// buildUpstreamURL returns the inbound URL with the host replaced by upstream.
func (s *ProxyService) buildUpstreamURL(in *url.URL, upstream string) *url.URL {
	u := *in
	u.Scheme = s.policy.UpstreamScheme
	u.Host = upstream
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return &u
}

// buildUpstreamHeader copies every inbound header and points Referer at the
// upstream URL. Host is carried on the request itself, not in the map.
func buildUpstreamHeader(src http.Header, target *url.URL) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Host")
	dst.Set("Referer", target.String())
	return dst
}
