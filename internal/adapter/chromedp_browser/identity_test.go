package chromedp_browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityPool_Proxy(t *testing.T) {
	pool := NewIdentityPool([]string{"http://a:8000", "http://b:8000"}, nil)

	assert.Equal(t, "http://a:8000", pool.Proxy())
	assert.Equal(t, "http://b:8000", pool.Proxy())
	assert.Equal(t, "http://a:8000", pool.Proxy())

	assert.Empty(t, NewIdentityPool(nil, nil).Proxy())
}

func TestIdentityPool_UserAgent(t *testing.T) {
	pool := NewIdentityPool(nil, nil)
	for i := 0; i < 20; i++ {
		assert.Contains(t, DefaultUserAgents, pool.UserAgent())
	}

	custom := NewIdentityPool(nil, []string{"test-agent"})
	assert.Equal(t, "test-agent", custom.UserAgent())
}
