package password

import (
	"fmt"
	"runtime"
)

// Argon2idParams is the hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords, counted in runes.
type Policy struct {
	MinLength int
	MaxLength int
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig uses 64 MiB / 3 passes with parallelism clamped to [1..4].
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 6,
			MaxLength: 256,
		},
	}
}

// Check reports whether the config is usable. Callers building a Config from
// their own settings should call it once at startup.
func (c Config) Check() error {
	p := c.Params
	switch {
	case c.Policy.MinLength < 1:
		return fmt.Errorf("%w: min length must be >= 1", ErrInvalidConfig)
	case c.Policy.MaxLength < c.Policy.MinLength:
		return fmt.Errorf("%w: min length %d > max length %d", ErrInvalidConfig, c.Policy.MinLength, c.Policy.MaxLength)
	case c.Policy.MaxLength > 4096:
		return fmt.Errorf("%w: max length must be <= 4096", ErrInvalidConfig)
	case p.MemoryKiB < 8*1024 || p.MemoryKiB > 1024*1024:
		return fmt.Errorf("%w: memory_kib out of range [8192..1048576]", ErrInvalidConfig)
	case p.Iterations < 1 || p.Iterations > 20:
		return fmt.Errorf("%w: iterations out of range [1..20]", ErrInvalidConfig)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidConfig)
	case p.SaltLength < 8 || p.SaltLength > 64:
		return fmt.Errorf("%w: salt length out of range [8..64]", ErrInvalidConfig)
	case p.KeyLength < 16 || p.KeyLength > 64:
		return fmt.Errorf("%w: key length out of range [16..64]", ErrInvalidConfig)
	}
	return nil
}
