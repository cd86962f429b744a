package collyfetcher

import (
	"math/rand/v2"
	"net/http"
	"strings"
)

// DefaultUserAgents is the identity pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// BrowserProfile returns the fixed browser-like header set sent with every
// request.
func BrowserProfile() http.Header {
	return http.Header{
		"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
		"Accept-Language":           {"en-US,en;q=0.9"},
		"Accept-Encoding":           {"gzip, deflate, br"},
		"Dnt":                       {"1"},
		"Connection":                {"keep-alive"},
		"Upgrade-Insecure-Requests": {"1"},
	}
}

// IdentityPool draws a user agent uniformly at random for each request. It is
// read-only after construction and safe for concurrent use.
type IdentityPool struct {
	agents []string
	pick   func(n int) int
}

// NewIdentityPool builds a pool, falling back to DefaultUserAgents when
// agents holds no usable entries.
func NewIdentityPool(agents []string) *IdentityPool {
	cleaned := make([]string, 0, len(agents))
	for _, agent := range agents {
		if agent = strings.TrimSpace(agent); agent != "" {
			cleaned = append(cleaned, agent)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultUserAgents...)
	}
	return &IdentityPool{agents: cleaned, pick: rand.IntN}
}

// Agents returns a copy of the pool.
func (p *IdentityPool) Agents() []string {
	return append([]string(nil), p.agents...)
}

// Headers returns the browser profile with a random user agent, then applies
// overrides on top.
func (p *IdentityPool) Headers(overrides http.Header) http.Header {
	headers := BrowserProfile()
	headers.Set("User-Agent", p.agents[p.pick(len(p.agents))])
	for key, values := range overrides {
		if len(values) == 0 {
			continue
		}
		headers[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return headers
}
