// Package useragent provides the User-Agent selection strategy used for
// every outgoing request.
package useragent

import (
	"math/rand/v2"
	"sync"
)

// Func returns the User-Agent header for one request.
type Func func() string

// DefaultPool is a small set of realistic desktop and mobile browser strings.
var DefaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Linux; Android 13; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
}

// Random picks uniformly from pool on every call. An empty pool falls back
// to DefaultPool.
func Random(pool []string) Func {
	return RandomWithSource(pool, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// RandomWithSource is Random with a caller-supplied generator, for tests.
func RandomWithSource(pool []string, rnd *rand.Rand) Func {
	if len(pool) == 0 {
		pool = DefaultPool
	}
	agents := make([]string, len(pool))
	copy(agents, pool)

	var mu sync.Mutex
	return func() string {
		mu.Lock()
		i := rnd.IntN(len(agents))
		mu.Unlock()
		return agents[i]
	}
}

// Fixed always returns agent.
func Fixed(agent string) Func {
	return func() string {
		return agent
	}
}
