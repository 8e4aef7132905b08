package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// PeerLimiter gives every gRPC peer IP its own token bucket. Buckets idle
// for longer than the TTL are dropped on the next sweep, at most once per TTL.
//
// A nil *PeerLimiter allows everything.
type PeerLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	buckets   map[peerID]*bucket
	nextSweep time.Time
}

// peerID is the textual IP of a peer; ports are ignored so one client
// reconnecting does not get a fresh budget.
type peerID string

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// NewPeerLimiter returns nil when rps or burst is not positive. A zero ttl
// falls back to ten minutes.
func NewPeerLimiter(rps float64, burst int, ttl time.Duration) *PeerLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PeerLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		buckets: make(map[peerID]*bucket),
	}
}

// AllowPeer reports whether addr may make one more call at now. Calls with
// no usable address are never limited.
func (l *PeerLimiter) AllowPeer(addr net.Addr, now time.Time) bool {
	if l == nil {
		return true
	}
	key, ok := peerKey(addr)
	if !ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.tokens.AllowN(now, 1)
}

// Peers returns the number of buckets currently held.
func (l *PeerLimiter) Peers() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep must be called with mu held.
func (l *PeerLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.ttl)
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
	l.nextSweep = now.Add(l.ttl)
}

func peerKey(addr net.Addr) (peerID, bool) {
	switch a := addr.(type) {
	case nil:
		return "", false
	case *net.TCPAddr:
		if a == nil || a.IP == nil {
			return "", false
		}
		return peerID(a.IP.String()), true
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	if s == "" {
		return "", false
	}
	return peerID(s), true
}

func peerAddr(ctx context.Context) net.Addr {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr
	}
	return nil
}

// peerHost returns the caller's IP, or "" when the transport did not record one.
func peerHost(ctx context.Context) string {
	key, _ := peerKey(peerAddr(ctx))
	return string(key)
}

// UnaryRateLimit returns a gRPC interceptor that rejects calls over the
// per-peer budget with ResourceExhausted.
func UnaryRateLimit(l *PeerLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !l.AllowPeer(peerAddr(ctx), time.Now()) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
