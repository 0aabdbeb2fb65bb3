package fetcher

import (
	"math/rand"
	"strings"
)

type UserAgentType string

const (
	UserAgentAuto    UserAgentType = "auto"
	UserAgentChrome  UserAgentType = "chrome"
	UserAgentFirefox UserAgentType = "firefox"
	UserAgentSafari  UserAgentType = "safari"
	UserAgentEdge    UserAgentType = "edge"
)

const fallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var userAgents = map[UserAgentType][]string{
	UserAgentChrome: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	},
	UserAgentFirefox: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.1; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	},
	UserAgentSafari: {
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_1_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	},
	UserAgentEdge: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	},
}

// UserAgentSelector picks a user agent per request. A configured pool takes precedence
// over the built-in per-browser lists.
type UserAgentSelector struct {
	rng  *rand.Rand
	pool []string
}

func NewUserAgentSelector(pool []string, rng *rand.Rand) *UserAgentSelector {
	if rng == nil {
		rng = NewRand()
	}
	var cleaned []string
	for _, ua := range pool {
		if ua = strings.TrimSpace(ua); ua != "" {
			cleaned = append(cleaned, ua)
		}
	}
	return &UserAgentSelector{rng: rng, pool: cleaned}
}

// GetUserAgent returns a user agent string.
// With a pool configured it picks randomly from the pool and ignores uaType.
// Otherwise "auto" or empty picks from every browser, a known browser name picks
// from that browser's list, and any other string is returned as a literal user agent.
func (uas *UserAgentSelector) GetUserAgent(uaType string) string {
	if len(uas.pool) > 0 {
		return uas.pool[uas.rng.Intn(len(uas.pool))]
	}

	raw := strings.TrimSpace(uaType)
	normalized := strings.ToLower(raw)
	if normalized == "" {
		normalized = string(UserAgentAuto)
	}

	switch UserAgentType(normalized) {
	case UserAgentAuto:
		return uas.getRandomFromAll()
	case UserAgentChrome, UserAgentFirefox, UserAgentSafari, UserAgentEdge:
		return uas.getRandomFromType(UserAgentType(normalized))
	default:
		return raw
	}
}

func (uas *UserAgentSelector) getRandomFromAll() string {
	// fixed order so a seeded rng gives reproducible picks
	order := []UserAgentType{UserAgentChrome, UserAgentFirefox, UserAgentSafari, UserAgentEdge}
	var all []string
	for _, t := range order {
		all = append(all, userAgents[t]...)
	}
	if len(all) == 0 {
		return fallbackUserAgent
	}
	return all[uas.rng.Intn(len(all))]
}

func (uas *UserAgentSelector) getRandomFromType(uaType UserAgentType) string {
	agents, ok := userAgents[uaType]
	if !ok || len(agents) == 0 {
		return uas.getRandomFromAll()
	}
	return agents[uas.rng.Intn(len(agents))]
}
