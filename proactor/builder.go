// Builder configuration for constructing a Proactor with non-default
// backend settings. The zero value (via NewBuilder with no options)
// behaves exactly like NewDefault: honor PROACTOR_DRIVER, prefer the
// best native backend, fall back where the kernel can't deliver it.
package proactor

import "github.com/xtaci/proactor/driver"

// Option customizes a Builder.
type Option func(*Builder)

// Builder accumulates driver selection and sizing choices; Build (per
// OS, see the default_* files) turns it into a live Proactor.
type Builder struct {
	kind    driver.Kind
	entries uint32
}

// NewBuilder applies opts over the default configuration.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithDriverKind forces a specific backend instead of the platform
// default, overriding the PROACTOR_DRIVER environment variable too.
// Requesting a backend the platform can't provide is a Build error,
// not a silent fallback.
func WithDriverKind(k driver.Kind) Option {
	return func(b *Builder) { b.kind = k }
}

// WithEntries sizes the submission ring on backends that have one
// (io_uring); the poll and IOCP backends ignore it. Zero keeps the
// backend's default.
func WithEntries(n uint32) Option {
	return func(b *Builder) { b.entries = n }
}
