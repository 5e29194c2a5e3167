//go:build linux

package proactor

import (
	"fmt"
	"os"

	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/driver/iouring"
	"github.com/xtaci/proactor/internal/logging"
)

// NewDefault picks io_uring when available, falling back to epoll, a
// choice decided once at startup and never re-evaluated (see
// DESIGN.md Open Question #1). Set
// PROACTOR_DRIVER=poll to force the fallback (useful in CI containers
// that seccomp-filter io_uring syscalls).
func NewDefault() (*Proactor, error) {
	return NewBuilder().Build()
}

// Build realizes the Builder's configuration on Linux.
func (b *Builder) Build() (*Proactor, error) {
	kind := b.kind
	if kind == "" {
		switch os.Getenv("PROACTOR_DRIVER") {
		case "poll", "polling":
			kind = driver.KindPoll
		case "io-uring":
			kind = driver.KindIOURing
		}
	}

	switch kind {
	case driver.KindPoll:
		d, err := driver.NewPollDriver()
		if err != nil {
			return nil, err
		}
		return New(d), nil
	case driver.KindIOURing:
		d, err := iouring.New(b.entries)
		if err != nil {
			return nil, err
		}
		return New(d), nil
	case "":
		d, err := iouring.New(b.entries)
		if err == nil {
			return New(d), nil
		}
		logging.L().Debug("io_uring unavailable, using poll backend", logging.Err(err))
		pd, err := driver.NewPollDriver()
		if err != nil {
			return nil, err
		}
		return New(pd), nil
	default:
		return nil, fmt.Errorf("proactor: driver %q is not available on linux", kind)
	}
}
