//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package proactor

import (
	"fmt"

	"github.com/xtaci/proactor/driver"
)

// NewDefault constructs the kqueue-backed poll driver — the only
// backend available on BSD/Darwin.
func NewDefault() (*Proactor, error) {
	return NewBuilder().Build()
}

// Build realizes the Builder's configuration on BSD/Darwin, where poll
// is the only backend; asking for anything else is an error.
func (b *Builder) Build() (*Proactor, error) {
	if b.kind != "" && b.kind != driver.KindPoll {
		return nil, fmt.Errorf("proactor: driver %q is not available on this platform", b.kind)
	}
	d, err := driver.NewPollDriver()
	if err != nil {
		return nil, err
	}
	return New(d), nil
}
