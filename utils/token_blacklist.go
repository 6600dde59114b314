package utils

import (
	"context"
	"sync"
	"time"
)

const blacklistKeyPrefix = "jwt:blacklist:"

var (
	blacklist   = map[string]time.Time{}
	blacklistMu sync.RWMutex
)

// RevokeToken blacklists a token id (jti) until the token would have expired anyway.
func RevokeToken(jti string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if jti == "" || ttl <= 0 {
		return
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Set(ctx, blacklistKeyPrefix+jti, "1", ttl).Err(); err == nil {
			return
		}
		Sugar.Warnf("redis revoke failed for jti=%s, keeping in memory", jti)
	}
	blacklistMu.Lock()
	blacklist[jti] = expiresAt
	blacklistMu.Unlock()
}

// IsTokenRevoked reports whether logout revoked this token id.
func IsTokenRevoked(jti string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if n, err := rc.Exists(ctx, blacklistKeyPrefix+jti).Result(); err == nil && n > 0 {
			return true
		}
		// fall through: a redis error fails open, and a failed revoke may live in memory
	}
	blacklistMu.RLock()
	expiresAt, ok := blacklist[jti]
	blacklistMu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		blacklistMu.Lock()
		delete(blacklist, jti)
		blacklistMu.Unlock()
		return false
	}
	return true
}
