package fetcher

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces consecutive requests to the same host by a minimum delay,
// regardless of which strategy makes them.
type HostLimiter struct {
	delay    time.Duration
	mutex    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a HostLimiter, a delay <= 0 disables limiting.
func NewHostLimiter(delay time.Duration) *HostLimiter {
	return &HostLimiter{
		delay:    delay,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	limiter, ok := l.limiters[host]
	if !ok {
		// burst of 1 so a request waits out the full delay after the previous one
		limiter = rate.NewLimiter(rate.Every(l.delay), 1)
		l.limiters[host] = limiter
	}
	return limiter
}

// Wait blocks until a request to the host of rawUrl may be made or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, rawUrl string) error {
	if l == nil || l.delay <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return err
	}
	return l.limiter(strings.ToLower(parsed.Hostname())).Wait(ctx)
}
