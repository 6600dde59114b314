package workpoints

import (
	"context"
	"strings"
	"testing"
)

var testEnv = Env{
	UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0",
	Locale:     "de-DE",
	Resolution: "1920x1080",
	Timezone:   "Europe/Berlin",
	Platform:   "Linux x86_64",
}

func TestFingerprintStableAndSanitized(t *testing.T) {
	a := Fingerprint(testEnv)
	b := Fingerprint(testEnv)
	if a == "" || a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	if len(a) != maxFingerprintLen {
		t.Errorf("fingerprint length = %d, want %d", len(a), maxFingerprintLen)
	}
	for _, r := range a {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			t.Fatalf("fingerprint contains %q", r)
		}
	}
}

func TestFingerprintDiffersByDevice(t *testing.T) {
	other := testEnv
	other.Resolution = "2560x1440"
	if Fingerprint(testEnv) == Fingerprint(other) {
		t.Error("different resolutions produced the same fingerprint")
	}
}

func TestFingerprintShortForEveryField(t *testing.T) {
	variants := map[string]func(*Env){
		"locale":     func(e *Env) { e.Locale = "fr-FR" },
		"resolution": func(e *Env) { e.Resolution = "1280x720" },
		"timezone":   func(e *Env) { e.Timezone = "Asia/Tokyo" },
		"platform":   func(e *Env) { e.Platform = "Win32" },
		"user agent": func(e *Env) { e.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)" },
	}
	base := Fingerprint(testEnv)
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			env := testEnv
			mutate(&env)
			got := Fingerprint(env)
			if len(got) > maxFingerprintLen {
				t.Errorf("length = %d", len(got))
			}
			if got == base {
				t.Errorf("changing %s kept fingerprint %q", name, got)
			}
		})
	}
}

func TestFingerprintTruncatesUserAgent(t *testing.T) {
	long := testEnv
	long.UserAgent = testEnv.UserAgent + strings.Repeat(" extra", 20)
	if Fingerprint(long) != Fingerprint(testEnv) {
		t.Error("user agent beyond the prefix should not change the fingerprint")
	}
}

func TestDeviceFingerprintPersisted(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewLocalStore(backend, nil)

	first := store.DeviceFingerprint(ctx, testEnv)
	if first != Fingerprint(testEnv) {
		t.Errorf("first fingerprint = %q", first)
	}

	changed := testEnv
	changed.Locale = "en-US"
	if again := NewLocalStore(backend, nil).DeviceFingerprint(ctx, changed); again != first {
		t.Errorf("persisted fingerprint not reused: %q vs %q", again, first)
	}
}

func TestDeviceFingerprintFallback(t *testing.T) {
	store := NewLocalStore(failingBackend{}, nil)
	id := store.DeviceFingerprint(context.Background(), testEnv)
	if !strings.HasPrefix(id, "session-") {
		t.Errorf("fallback id = %q, want session- prefix", id)
	}
	if len(id) > 255 {
		t.Errorf("fallback id too long: %d", len(id))
	}
}
