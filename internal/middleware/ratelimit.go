package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// pruneThreshold bounds the bucket map; expired entries are swept once the
// map grows past it.
const pruneThreshold = 10000

type bucket struct {
	count int
	until time.Time
}

// RateLimit applies a fixed-window limit per caller. Identified callers
// (X-User-ID header) are bucketed per user so tenants behind one proxy do
// not share a window; anonymous traffic falls back to the client IP.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	buckets := make(map[string]*bucket)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateKey(r)
			mu.Lock()
			now := time.Now()
			if len(buckets) > pruneThreshold {
				for k, b := range buckets {
					if now.After(b.until) {
						delete(buckets, k)
					}
				}
			}
			b, ok := buckets[key]
			if !ok || now.After(b.until) {
				b = &bucket{until: now.Add(per)}
				buckets[key] = b
			}
			if b.count >= limit {
				mu.Unlock()
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			b.count++
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if uid := r.Header.Get("X-User-ID"); uid != "" {
		return "user:" + uid
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
