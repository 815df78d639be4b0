package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Version = argon2.Version
	algoTag       = "argon2id"
)

var b64 = base64.RawStdEncoding

// Hash validates password against the policy and returns its encoded Argon2id hash.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}

	key := c.derive(password, salt, c.Params, c.Params.KeyLength)
	return encode(c.Params, salt, key), nil
}

// Verify reports whether password matches encodedHash.
// A malformed or out-of-bounds hash yields (false, ErrInvalidHash).
func (c Config) Verify(encodedHash, password string) (bool, error) {
	params, salt, want, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	if !withinBounds(params, c.Params) {
		return false, ErrInvalidHash
	}

	got := c.derive(password, salt, params, params.KeyLength)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// DummyVerify burns the same work as Verify at the configured cost.
// Login paths call it for unknown accounts so response times do not leak existence.
func (c Config) DummyVerify(password string) {
	salt := make([]byte, c.Params.SaltLength)
	_ = c.derive(password, salt, c.Params, c.Params.KeyLength)
}

func (c Config) derive(password string, salt []byte, p Argon2idParams, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// withinBounds accepts hashes made with older, cheaper settings but not ones
// more than twice as expensive as the current config.
func withinBounds(got, limit Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limit.MemoryKiB*2:
		return false
	case got.Iterations > limit.Iterations*2:
		return false
	case uint32(got.Parallelism) > uint32(limit.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func encode(p Argon2idParams, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algoTag, argon2Version,
		p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	)
}

func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algoTag {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	mem, it, par, err := parseCost(parts[3])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) > 64 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) > 128 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: par,
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded above.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded above.
	}, salt, key, nil
}

// parseCost reads "m=<mem>,t=<iter>,p=<par>" in that order.
func parseCost(s string) (mem, iter uint32, par uint8, err error) {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return 0, 0, 0, ErrInvalidHash
	}
	vals := make([]uint64, 3)
	for i, prefix := range []string{"m=", "t=", "p="} {
		raw, ok := strings.CutPrefix(fields[i], prefix)
		if !ok {
			return 0, 0, 0, ErrInvalidHash
		}
		bits := 32
		if prefix == "p=" {
			bits = 8
		}
		v, perr := strconv.ParseUint(raw, 10, bits)
		if perr != nil || v == 0 {
			return 0, 0, 0, ErrInvalidHash
		}
		vals[i] = v
	}
	return uint32(vals[0]), uint32(vals[1]), uint8(vals[2]), nil // #nosec G115 -- ParseUint bit sizes bound each value.
}
