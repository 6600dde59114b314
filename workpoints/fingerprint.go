package workpoints

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	userAgentPrefixLen = 50
	maxFingerprintLen  = 24
)

const fingerprintAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Env holds the device characteristics a fingerprint is derived from.
type Env struct {
	UserAgent  string
	Locale     string
	Resolution string
	Timezone   string
	Platform   string
}

// CurrentEnv describes the running process. userAgent names the client software.
func CurrentEnv(userAgent string) Env {
	locale := os.Getenv("LC_ALL")
	if locale == "" {
		locale = os.Getenv("LANG")
	}
	resolution := "unknown"
	if cols, lines := os.Getenv("COLUMNS"), os.Getenv("LINES"); cols != "" && lines != "" {
		resolution = cols + "x" + lines
	}
	host, _ := os.Hostname()
	_, offset := time.Now().Zone()
	return Env{
		UserAgent:  fmt.Sprintf("%s (%s; %s)", userAgent, host, runtime.Version()),
		Locale:     locale,
		Resolution: resolution,
		Timezone:   fmt.Sprintf("%s%+d", time.Local.String(), offset/60),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Fingerprint derives a stable, coarse device identifier from env.
// It only tells devices apart for bookkeeping and is not a security boundary.
func Fingerprint(env Env) string {
	ua := env.UserAgent
	if len(ua) > userAgentPrefixLen {
		ua = ua[:userAgentPrefixLen]
	}
	raw := strings.Join([]string{ua, env.Locale, env.Resolution, env.Timezone, env.Platform}, "|")
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	return foldFingerprint(sanitizeFingerprint(encoded))
}

// foldFingerprint caps s at maxFingerprintLen by folding the overflow back onto the
// head, so every input character still moves the result.
func foldFingerprint(s string) string {
	if len(s) <= maxFingerprintLen {
		return s
	}
	acc := make([]int, maxFingerprintLen)
	for i := 0; i < len(s); i++ {
		acc[i%maxFingerprintLen] += strings.IndexByte(fingerprintAlphabet, s[i])
	}
	out := make([]byte, maxFingerprintLen)
	for i, v := range acc {
		out[i] = fingerprintAlphabet[v%len(fingerprintAlphabet)]
	}
	return string(out)
}

func sanitizeFingerprint(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeviceFingerprint returns the persisted device id, creating it from env on first use.
// When the id cannot be persisted a random one is returned for this session only.
func (s *LocalStore) DeviceFingerprint(ctx context.Context, env Env) string {
	if id, err := s.deviceID(ctx); err == nil && id != "" {
		return id
	}
	id := Fingerprint(env)
	if id == "" {
		id = sessionFingerprint()
	}
	if err := s.setDeviceID(ctx, id); err != nil {
		s.log.Warn("device fingerprint not persisted, using session id", zap.Error(err))
		return sessionFingerprint()
	}
	return id
}

func sessionFingerprint() string {
	return fmt.Sprintf("session-%d-%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
