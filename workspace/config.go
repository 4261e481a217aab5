package workspace

import (
	"time"
)

// ClockSource returns the current time as milliseconds since the Unix
// epoch, used to stamp a transaction's edit records. Injectable so tests can
// supply a deterministic clock.
type ClockSource func() uint64

func defaultClock() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Config holds a workspace's tunables. Built with functional options, in the
// style of the teacher's storage option set.
type Config struct {
	EnableIndexing bool
	Clock          ClockSource
	AwarenessTTL   time.Duration
	ClientID       uint64
}

func defaultConfig() Config {
	return Config{
		EnableIndexing: true,
		Clock:          defaultClock,
		AwarenessTTL:   0, // resolved to awareness.DefaultTTL if left zero
		ClientID:       0, // resolved to a derived id if left zero
	}
}

// Option configures a Workspace at construction time.
type Option func(*Config)

// WithIndexing toggles whether the reference indexing plugin is installed.
func WithIndexing(enabled bool) Option {
	return func(c *Config) { c.EnableIndexing = enabled }
}

// WithClock overrides the clock used to stamp edit records.
func WithClock(clock ClockSource) Option {
	return func(c *Config) { c.Clock = clock }
}

// WithAwarenessTTL overrides the TTL after which an unrenewed client's
// presence is evicted.
func WithAwarenessTTL(ttl time.Duration) Option {
	return func(c *Config) { c.AwarenessTTL = ttl }
}

// WithClientID fixes the local client id stamped onto edit records and
// reported by Workspace.ClientID, rather than deriving one from the
// document's session id.
func WithClientID(id uint64) Option {
	return func(c *Config) { c.ClientID = id }
}
