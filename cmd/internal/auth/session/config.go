package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config defines the token policy.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// TokenTTL defines the lifetime of identity tokens.
	TokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns the default token policy. The secret key is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:    "huddle",
		TokenTTL:  24 * time.Hour,
		ClockSkew: 30 * time.Second,
	}
}

// Validate returns ErrConfig when the policy cannot be used to issue tokens.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.TokenTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if strings.TrimSpace(c.PasetoV4SecretKeyHex) == "" {
		return ErrConfig
	}
	return nil
}

// GenerateSecretKeyHex returns a fresh Ed25519 secret key in hex.
// Tokens signed with an ephemeral key do not survive a restart.
func GenerateSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}
