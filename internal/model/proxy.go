// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents an inbound client request handed to the pipeline.
// URL carries the scheme and host the client used; it is never mutated.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	URL    *url.URL
	Header http.Header
	Body   io.ReadCloser
}

// Host returns the host the client addressed, which is the mirror's custom domain.
func (r *ProxyRequest) Host() string {
	return r.URL.Host
}

// ProxyResponse represents the response streamed back to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	// Materialized is true when Body holds a fully buffered, rewritten text
	// body rather than the upstream stream.
	Materialized bool
}

// DecisionKind tags the outcome of policy evaluation.
type DecisionKind int

const (
	DecisionAllow DecisionKind = iota
	DecisionDeny
	DecisionRedirect
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	case DecisionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is produced once per request by the policy evaluator.
type Decision struct {
	Kind DecisionKind

	// Upstream is the selected upstream host (Allow only).
	Upstream string
	// Mobile reports whether the caller was classified as a mobile device (Allow only).
	Mobile bool

	// StatusCode and Reason describe a Deny or Redirect.
	StatusCode int
	Reason     string
	// Location is the redirect target (Redirect only).
	Location string
}

// Allow returns an Allow decision for the given upstream host.
func Allow(upstream string, mobile bool) Decision {
	return Decision{Kind: DecisionAllow, Upstream: upstream, Mobile: mobile}
}

// Deny returns a Deny decision.
func Deny(reason string, status int) Decision {
	return Decision{Kind: DecisionDeny, Reason: reason, StatusCode: status}
}

// Redirect returns a Redirect decision.
func Redirect(location string, status int) Decision {
	return Decision{Kind: DecisionRedirect, Location: location, StatusCode: status, Reason: "https redirect"}
}
