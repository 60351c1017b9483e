package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.NotEmpty(t, cfg.Socket)
	assert.NotEmpty(t, cfg.LogDir)
	assert.Equal(t, DefaultIdle, cfg.MaxIdle)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.TrustBlindly)
	assert.False(t, cfg.Restore)
}

func TestDefaultConstants(t *testing.T) {
	assert.Equal(t, "/run/logduct.sock", DefaultSocket)
	assert.Equal(t, "/var/log/logduct", DefaultLogDir)
	assert.Equal(t, 60*time.Second, DefaultIdle)
}
