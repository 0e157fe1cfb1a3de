package policy

import (
	"net/http"
	"net/url"
	"reflect"
	"testing"
	"time"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			Host:       "upstream.example",
			MobileHost: "m.upstream.example",
			Scheme:     "https",
		},
		Policy: config.PolicyConfig{
			AllowedMethods:  []string{"GET", "head", "POST", "GET"},
			BlockedRegions:  []string{"kp", "IR"},
			BlockedIPs:      []string{"192.0.2.1", "198.51.100.0/24", "2001:db8::/32"},
			RegionHeader:    "CF-IPCountry",
			IPHeader:        "CF-Connecting-IP",
			CacheTTLSeconds: 60,
		},
		Rewrite: config.RewriteConfig{
			Rules: []config.RewriteRule{
				{Pattern: "$upstream", Replacement: "$custom_domain"},
				{Pattern: "//cdn.jsdelivr.net", Replacement: ""},
			},
			MaxBodyBytes: 1024,
		},
	}
}

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func newRequest(t *testing.T, method, rawURL string, header http.Header) *model.ProxyRequest {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", rawURL, err)
	}
	if header == nil {
		header = http.Header{}
	}
	return &model.ProxyRequest{Method: method, URL: u, Header: header}
}

func TestNew(t *testing.T) {
	p := newTestPolicy(t)

	if want := map[string]bool{"GET": true, "HEAD": true, "POST": true}; !reflect.DeepEqual(p.AllowedMethods, want) {
		t.Errorf("AllowedMethods = %v, want %v", p.AllowedMethods, want)
	}
	if got := p.AllowHeader(); got != "GET, HEAD, POST" {
		t.Errorf("AllowHeader() = %q, want %q", got, "GET, HEAD, POST")
	}
	if want := map[string]bool{"KP": true, "IR": true}; !reflect.DeepEqual(p.BlockedRegions, want) {
		t.Errorf("BlockedRegions = %v, want %v", p.BlockedRegions, want)
	}
	if want := map[string]bool{"192.0.2.1": true}; !reflect.DeepEqual(p.BlockedIPs, want) {
		t.Errorf("BlockedIPs = %v, want %v", p.BlockedIPs, want)
	}
	if len(p.BlockedPrefixes) != 2 {
		t.Errorf("len(BlockedPrefixes) = %d, want 2", len(p.BlockedPrefixes))
	}
	if len(p.RewriteRules) != 2 {
		t.Fatalf("len(RewriteRules) = %d, want 2", len(p.RewriteRules))
	}
	if p.RewriteRules[0].Pattern != "$upstream" {
		t.Errorf("RewriteRules[0].Pattern = %q, want %q", p.RewriteRules[0].Pattern, "$upstream")
	}
	if p.CacheTTL != time.Minute {
		t.Errorf("CacheTTL = %v, want %v", p.CacheTTL, time.Minute)
	}
	if p.MaxBodyBytes != 1024 {
		t.Errorf("MaxBodyBytes = %d, want 1024", p.MaxBodyBytes)
	}
}

func TestNew_MobileHostDefaultsToHost(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.MobileHost = ""
	cfg.Upstream.Scheme = ""

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if p.UpstreamMobileHost != "upstream.example" {
		t.Errorf("UpstreamMobileHost = %q, want %q", p.UpstreamMobileHost, "upstream.example")
	}
	if p.UpstreamScheme != "https" {
		t.Errorf("UpstreamScheme = %q, want %q", p.UpstreamScheme, "https")
	}
}

func TestEvaluate_MethodNotAllowed(t *testing.T) {
	p := newTestPolicy(t)

	tests := []struct {
		name   string
		url    string
		header http.Header
	}{
		{"plain", "https://proxy.example/", nil},
		{"http scheme still 405", "http://proxy.example/", nil},
		{"blocked region still 405", "https://proxy.example/", http.Header{"Cf-Ipcountry": {"KP"}}},
		{"blocked ip still 405", "https://proxy.example/", http.Header{"Cf-Connecting-Ip": {"192.0.2.1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Evaluate(newRequest(t, http.MethodDelete, tt.url, tt.header))

			checkDeny(t, d, http.StatusMethodNotAllowed, ReasonMethodNotAllowed)
		})
	}
}

func TestEvaluate_HTTPRedirect(t *testing.T) {
	p := newTestPolicy(t)
	header := http.Header{"Cf-Ipcountry": {"KP"}, "Cf-Connecting-Ip": {"192.0.2.1"}}

	d := p.Evaluate(newRequest(t, http.MethodGet, "http://proxy.example/path/file.js?v=1", header))

	if d.Kind != model.DecisionRedirect {
		t.Fatalf("Kind = %v, want DecisionRedirect", d.Kind)
	}
	if d.StatusCode != http.StatusMovedPermanently {
		t.Errorf("StatusCode = %d, want %d", d.StatusCode, http.StatusMovedPermanently)
	}
	if want := "https://proxy.example/path/file.js?v=1"; d.Location != want {
		t.Errorf("Location = %q, want %q", d.Location, want)
	}
}

func TestEvaluate_AllowPlainHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.AllowPlainHTTP = true
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	d := p.Evaluate(newRequest(t, http.MethodGet, "http://proxy.example/", nil))

	if d.Kind != model.DecisionAllow {
		t.Errorf("Kind = %v, want DecisionAllow", d.Kind)
	}
}

func TestEvaluate_RegionBlocked(t *testing.T) {
	p := newTestPolicy(t)

	for _, region := range []string{"KP", "kp", " ir "} {
		t.Run(region, func(t *testing.T) {
			d := p.Evaluate(newRequest(t, http.MethodGet, "https://proxy.example/", http.Header{"Cf-Ipcountry": {region}}))

			checkDeny(t, d, http.StatusForbidden, ReasonRegionBlocked)
		})
	}
}

func TestEvaluate_IPBlocked(t *testing.T) {
	p := newTestPolicy(t)

	for _, ip := range []string{"192.0.2.1", "198.51.100.77", "2001:db8::1", "::ffff:198.51.100.1"} {
		t.Run(ip, func(t *testing.T) {
			d := p.Evaluate(newRequest(t, http.MethodGet, "https://proxy.example/", http.Header{"Cf-Connecting-Ip": {ip}}))

			checkDeny(t, d, http.StatusForbidden, ReasonIPBlocked)
		})
	}
}

func TestEvaluate_RegionCheckedBeforeIP(t *testing.T) {
	p := newTestPolicy(t)
	header := http.Header{"Cf-Ipcountry": {"IR"}, "Cf-Connecting-Ip": {"192.0.2.1"}}

	d := p.Evaluate(newRequest(t, http.MethodGet, "https://proxy.example/", header))

	if d.Reason != ReasonRegionBlocked {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonRegionBlocked)
	}
}

func TestEvaluate_Allow(t *testing.T) {
	p := newTestPolicy(t)

	tests := []struct {
		name       string
		userAgent  string
		wantHost   string
		wantMobile bool
	}{
		{"no user agent", "", "upstream.example", false},
		{"desktop", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", "upstream.example", false},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", "m.upstream.example", true},
		{"android", "Mozilla/5.0 (Linux; Android 14; Pixel 8)", "m.upstream.example", true},
		{"windows phone", "Mozilla/5.0 (compatible; MSIE 10.0; Windows Phone 8.0)", "m.upstream.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{"Cf-Ipcountry": {"US"}, "Cf-Connecting-Ip": {"203.0.113.9"}}
			if tt.userAgent != "" {
				header.Set("User-Agent", tt.userAgent)
			}

			d := p.Evaluate(newRequest(t, http.MethodGet, "https://proxy.example/path", header))

			if d.Kind != model.DecisionAllow {
				t.Fatalf("Kind = %v, want DecisionAllow", d.Kind)
			}
			if d.Upstream != tt.wantHost {
				t.Errorf("Upstream = %q, want %q", d.Upstream, tt.wantHost)
			}
			if d.Mobile != tt.wantMobile {
				t.Errorf("Mobile = %v, want %v", d.Mobile, tt.wantMobile)
			}
		})
	}
}

func TestRegionAndCallerIP(t *testing.T) {
	p := newTestPolicy(t)

	if got := p.Region(http.Header{}); got != UnknownRegion {
		t.Errorf("Region(empty) = %q, want %q", got, UnknownRegion)
	}
	if got := p.Region(http.Header{"Cf-Ipcountry": {"de"}}); got != "DE" {
		t.Errorf("Region(de) = %q, want %q", got, "DE")
	}
	if got := p.CallerIP(http.Header{}); got != "" {
		t.Errorf("CallerIP(empty) = %q, want empty", got)
	}
	if got := p.CallerIP(http.Header{"Cf-Connecting-Ip": {"203.0.113.9"}}); got != "203.0.113.9" {
		t.Errorf("CallerIP() = %q, want %q", got, "203.0.113.9")
	}
}

func TestIsMobile(t *testing.T) {
	tests := []struct {
		ua   string
		want bool
	}{
		{"", false},
		{"curl/8.0", false},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)", false},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", true},
		{"Mozilla/5.0 (iPod touch; CPU iPhone OS 12_0)", true},
		{"BlackBerry9700/5.0.0.862", true},
		{"Nokia6600/1.0 SymbianOS/7.0s", true},
		{"Mozilla/5.0 (X11; Linux x86_64) MOBILE Safari", true},
		{"ANDROID", true},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			if got := IsMobile(tt.ua); got != tt.want {
				t.Errorf("IsMobile(%q) = %v, want %v", tt.ua, got, tt.want)
			}
		})
	}
}

func checkDeny(t *testing.T, d model.Decision, status int, reason string) {
	t.Helper()
	if d.Kind != model.DecisionDeny {
		t.Fatalf("Kind = %v, want DecisionDeny", d.Kind)
	}
	if d.StatusCode != status {
		t.Errorf("StatusCode = %d, want %d", d.StatusCode, status)
	}
	if d.Reason != reason {
		t.Errorf("Reason = %q, want %q", d.Reason, reason)
	}
}
