package utils

import (
	"os"
	"testing"

	"github.com/vocabnest/vocabnest/config"
)

func TestMain(m *testing.M) {
	config.Set(config.AppConfig{JWTSecret: "test-secret", RedisDisabled: true, TokenTTLHours: 1})
	os.Exit(m.Run())
}
