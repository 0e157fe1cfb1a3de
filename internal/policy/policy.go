// Package policy decides, once per request, whether the proxy forwards,
// denies or redirects, and which upstream host serves the caller.
package policy

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/model"
	"mirror-proxy-go/internal/rewrite"
)

// UnknownRegion is the region used when the geolocation header is absent.
const UnknownRegion = "UNKNOWN"

// Denial reasons returned in Decision.Reason and sent as the response body.
const (
	ReasonMethodNotAllowed = "Method Not Allowed"
	ReasonRegionBlocked    = "Access denied: this service is not available in your region."
	ReasonIPBlocked        = "Access denied: your IP address is blocked."
)

// mobileTokens are matched case-insensitively against the User-Agent.
var mobileTokens = []string{
	"android", "iphone", "symbianos", "windows phone",
	"ipad", "ipod", "blackberry", "mobile",
}

// Policy is the immutable proxy policy. It is built once at startup and
// shared read-only by all requests.
type Policy struct {
	UpstreamHost       string
	UpstreamMobileHost string
	UpstreamScheme     string

	AllowedMethods  map[string]bool
	BlockedRegions  map[string]bool
	BlockedIPs      map[string]bool
	BlockedPrefixes []netip.Prefix

	RegionHeader   string
	IPHeader       string
	AllowPlainHTTP bool

	RewriteRules rewrite.Rules
	MaxBodyBytes int64

	// CacheTTL is carried for a future cache layer and not used when forwarding.
	CacheTTL time.Duration

	allowHeader string
}

// New builds a Policy from validated configuration.
func New(cfg *config.Config) (*Policy, error) {
	p := &Policy{
		UpstreamHost:       cfg.Upstream.Host,
		UpstreamMobileHost: cfg.Upstream.MobileHost,
		UpstreamScheme:     cfg.Upstream.Scheme,
		AllowedMethods:     make(map[string]bool, len(cfg.Policy.AllowedMethods)),
		BlockedRegions:     make(map[string]bool, len(cfg.Policy.BlockedRegions)),
		BlockedIPs:         make(map[string]bool, len(cfg.Policy.BlockedIPs)),
		RegionHeader:       cfg.Policy.RegionHeader,
		IPHeader:           cfg.Policy.IPHeader,
		AllowPlainHTTP:     cfg.Policy.AllowPlainHTTP,
		MaxBodyBytes:       cfg.Rewrite.MaxBodyBytes,
		CacheTTL:           time.Duration(cfg.Policy.CacheTTLSeconds) * time.Second,
	}
	if p.UpstreamMobileHost == "" {
		p.UpstreamMobileHost = p.UpstreamHost
	}
	if p.UpstreamScheme == "" {
		p.UpstreamScheme = "https"
	}

	methods := make([]string, 0, len(cfg.Policy.AllowedMethods))
	for _, m := range cfg.Policy.AllowedMethods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if !p.AllowedMethods[m] {
			methods = append(methods, m)
		}
		p.AllowedMethods[m] = true
	}
	p.allowHeader = strings.Join(methods, ", ")

	for _, r := range cfg.Policy.BlockedRegions {
		p.BlockedRegions[strings.ToUpper(strings.TrimSpace(r))] = true
	}

	for _, ip := range cfg.Policy.BlockedIPs {
		if !strings.Contains(ip, "/") {
			p.BlockedIPs[ip] = true
			continue
		}
		prefix, err := netip.ParsePrefix(ip)
		if err != nil {
			return nil, fmt.Errorf("policy: blocked ip %q: %w", ip, err)
		}
		p.BlockedPrefixes = append(p.BlockedPrefixes, prefix.Masked())
	}

	p.RewriteRules = make(rewrite.Rules, 0, len(cfg.Rewrite.Rules))
	for _, r := range cfg.Rewrite.Rules {
		p.RewriteRules = append(p.RewriteRules, rewrite.Rule{Pattern: r.Pattern, Replacement: r.Replacement})
	}

	return p, nil
}

// AllowHeader returns the value of the Allow header sent with 405 responses.
func (p *Policy) AllowHeader() string {
	return p.allowHeader
}

// Evaluate runs the checks in order: method, scheme, device class, region,
// IP. The first failing check decides.
func (p *Policy) Evaluate(pr *model.ProxyRequest) model.Decision {
	if !p.AllowedMethods[pr.Method] {
		return model.Deny(ReasonMethodNotAllowed, http.StatusMethodNotAllowed)
	}

	if pr.URL.Scheme == "http" && !p.AllowPlainHTTP {
		target := *pr.URL
		target.Scheme = "https"
		return model.Redirect(target.String(), http.StatusMovedPermanently)
	}

	region := p.Region(pr.Header)
	callerIP := p.CallerIP(pr.Header)

	mobile := IsMobile(pr.Header.Get("User-Agent"))
	upstream := p.UpstreamHost
	if mobile {
		upstream = p.UpstreamMobileHost
	}

	if p.BlockedRegions[region] {
		return model.Deny(ReasonRegionBlocked, http.StatusForbidden)
	}
	if p.ipBlocked(callerIP) {
		return model.Deny(ReasonIPBlocked, http.StatusForbidden)
	}

	return model.Allow(upstream, mobile)
}

// Region returns the upper-cased caller region, or UnknownRegion.
func (p *Policy) Region(h http.Header) string {
	region := strings.TrimSpace(h.Get(p.RegionHeader))
	if region == "" {
		return UnknownRegion
	}
	return strings.ToUpper(region)
}

// CallerIP returns the caller IP header value, or "" when absent.
func (p *Policy) CallerIP(h http.Header) string {
	return strings.TrimSpace(h.Get(p.IPHeader))
}

func (p *Policy) ipBlocked(ip string) bool {
	if ip == "" {
		return false
	}
	if p.BlockedIPs[ip] {
		return true
	}
	if len(p.BlockedPrefixes) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.BlockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsMobile reports whether the User-Agent names a mobile device. An empty
// User-Agent is desktop.
func IsMobile(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, token := range mobileTokens {
		if strings.Contains(ua, token) {
			return true
		}
	}
	return false
}
