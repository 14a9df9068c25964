package chromedp_browser

import (
	"math/rand/v2"
	"sync"
)

// DefaultUserAgents are desktop Chrome identities pages are given at random.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

// IdentityPool hands out proxies and user agents.
type IdentityPool struct {
	proxies    []string
	userAgents []string
	mu         sync.Mutex
	proxyIndex int
}

// NewIdentityPool falls back to DefaultUserAgents when userAgents is empty.
func NewIdentityPool(proxies, userAgents []string) *IdentityPool {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	return &IdentityPool{proxies: proxies, userAgents: userAgents}
}

// Proxy returns the next proxy in round-robin order, or "" when none are configured.
func (m *IdentityPool) Proxy() string {
	if len(m.proxies) == 0 {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	proxy := m.proxies[m.proxyIndex]
	m.proxyIndex = (m.proxyIndex + 1) % len(m.proxies)
	return proxy
}

// UserAgent returns a random user agent.
func (m *IdentityPool) UserAgent() string {
	return m.userAgents[rand.IntN(len(m.userAgents))]
}
