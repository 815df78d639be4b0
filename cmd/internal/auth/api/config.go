package authapi

// Config controls auth API limits. It is derived from app.Config at startup.
type Config struct {
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
	// UsernameMinLen and UsernameMaxLen bound registered usernames, in runes.
	UsernameMinLen int
	UsernameMaxLen int
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   1 << 20,
		UsernameMinLen: 3,
		UsernameMaxLen: 32,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.UsernameMinLen <= 0 {
		c.UsernameMinLen = def.UsernameMinLen
	}
	if c.UsernameMaxLen < c.UsernameMinLen {
		c.UsernameMaxLen = def.UsernameMaxLen
		if c.UsernameMaxLen < c.UsernameMinLen {
			c.UsernameMaxLen = c.UsernameMinLen
		}
	}
	return c
}
