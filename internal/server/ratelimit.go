package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/graphchat-go/internal/logging"
)

// Rate-limit tiers. Graph builds hold the global build lock and spend model
// tokens per chunk, so they draw from their own, much smaller bucket.
const (
	tierAPI   = "api"
	tierBuild = "build"
)

const (
	defaultRateLimit      = 10
	defaultRateBurst      = 20
	defaultBuildRateLimit = 0.2 // one build every five seconds per client
	defaultBuildRateBurst = 2

	// bucketIdleTTL is how long an unused client bucket is kept.
	bucketIdleTTL = 5 * time.Minute
)

// tierLimit is the token-bucket shape of one tier.
type tierLimit struct {
	rps   rate.Limit
	burst int
}

type bucketKey struct {
	tier string
	ip   string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per tier and client IP.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	tiers   map[string]tierLimit

	// rejected counts 429s by tier and handler. May be nil.
	rejected *prometheus.CounterVec
}

// newRateLimiter starts the idle-bucket sweeper; call the returned func to
// stop it.
func newRateLimiter(tiers map[string]tierLimit, rejected *prometheus.CounterVec) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[bucketKey]*bucket),
		tiers:    tiers,
		rejected: rejected,
	}

	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				rl.sweep(now.Add(-bucketIdleTTL))
			}
		}
	}()
	return rl, func() { close(stop) }
}

// tiersFromConfig builds the tier table from the server config.
func tiersFromConfig(cfg *Config) map[string]tierLimit {
	return map[string]tierLimit{
		tierAPI:   {rps: rate.Limit(cfg.RateLimit), burst: cfg.RateBurst},
		tierBuild: {rps: rate.Limit(cfg.BuildRateLimit), burst: cfg.BuildRateBurst},
	}
}

func (rl *rateLimiter) limiterFor(tier, ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	k := bucketKey{tier: tier, ip: ip}
	b, ok := rl.buckets[k]
	if !ok {
		lim := rl.tiers[tier]
		b = &bucket{limiter: rate.NewLimiter(lim.rps, lim.burst)}
		rl.buckets[k] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (rl *rateLimiter) sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}

// retryAfter takes a token for the request, or returns how long the client
// should wait when none is available.
func (rl *rateLimiter) retryAfter(tier, ip string) (time.Duration, bool) {
	now := time.Now()
	r := rl.limiterFor(tier, ip, now).ReserveN(now, 1)
	if !r.OK() {
		return time.Second, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

// limit rejects requests over the tier's budget with 429 and a Retry-After
// header in whole seconds.
func (rl *rateLimiter) limit(tier, handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		wait, ok := rl.retryAfter(tier, ip)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		secs := max(1, int(math.Ceil(wait.Seconds())))
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("tier", tier),
			slog.String("handler", handler),
			slog.String("ip", ip),
			slog.Int("retry_after_seconds", secs),
		)
		if rl.rejected != nil {
			rl.rejected.WithLabelValues(tier, handler).Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		msg := "rate limit exceeded"
		if tier == tierBuild {
			msg = "too many graph builds, retry in " + strconv.Itoa(secs) + "s"
		}
		http.Error(w, msg, http.StatusTooManyRequests)
	})
}

// clientIP is the host part of RemoteAddr. X-Forwarded-For is ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
