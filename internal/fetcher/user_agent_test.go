package fetcher

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgentSelector_GetUserAgent(t *testing.T) {
	uas := NewUserAgentSelector(nil, rand.New(rand.NewSource(1)))

	tests := []struct {
		name     string
		uaType   string
		contains string
	}{
		{"chrome", "chrome", "Chrome"},
		{"firefox", "firefox", "Firefox"},
		{"safari", "safari", "Safari"},
		{"edge", "edge", "Edg/"},
		{"case insensitive", "FireFox", "Firefox"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, uas.GetUserAgent(tt.uaType), tt.contains)
		})
	}
}

func TestUserAgentSelector_Auto(t *testing.T) {
	uas := NewUserAgentSelector(nil, rand.New(rand.NewSource(1)))
	for _, uaType := range []string{"", "auto", " AUTO "} {
		assert.Contains(t, uas.GetUserAgent(uaType), "Mozilla/5.0")
	}
}

func TestUserAgentSelector_CustomStringKeepsCase(t *testing.T) {
	uas := NewUserAgentSelector(nil, nil)
	assert.Equal(t, "MyCrawler/2.0 (+https://example.com)", uas.GetUserAgent("  MyCrawler/2.0 (+https://example.com) "))
}

func TestUserAgentSelector_PoolTakesPrecedence(t *testing.T) {
	pool := []string{"a", " ", "b"}
	uas := NewUserAgentSelector(pool, rand.New(rand.NewSource(3)))

	for i := 0; i < 20; i++ {
		got := uas.GetUserAgent("firefox")
		assert.Contains(t, []string{"a", "b"}, got)
	}
}

func TestUserAgentSelector_SeededIsReproducible(t *testing.T) {
	a := NewUserAgentSelector(nil, rand.New(rand.NewSource(42)))
	b := NewUserAgentSelector(nil, rand.New(rand.NewSource(42)))
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.GetUserAgent("auto"), b.GetUserAgent("auto"))
	}
}
