package session

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.PasetoV4SecretKeyHex = GenerateSecretKeyHex()

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults with key", mutate: func(*Config) {}, ok: true},
		{name: "missing key", mutate: func(c *Config) { c.PasetoV4SecretKeyHex = "" }},
		{name: "blank issuer", mutate: func(c *Config) { c.Issuer = "  " }},
		{name: "zero ttl", mutate: func(c *Config) { c.TokenTTL = 0 }},
		{name: "negative skew", mutate: func(c *Config) { c.ClockSkew = -time.Second }},
		{name: "zero skew", mutate: func(c *Config) { c.ClockSkew = 0 }, ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate()=%v want=nil", err)
			}
			if !tc.ok && !errors.Is(err, ErrConfig) {
				t.Fatalf("Validate()=%v want=%v", err, ErrConfig)
			}
		})
	}
}

func TestDefaultConfig_TokenTTL(t *testing.T) {
	if got := DefaultConfig().TokenTTL; got != 24*time.Hour {
		t.Fatalf("TokenTTL=%v want=%v", got, 24*time.Hour)
	}
}

func TestNewPasetoV4PublicManager_BadKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = "not-hex"
	if _, err := NewPasetoV4PublicManager(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want=%v", err, ErrConfig)
	}
}
