//go:build windows

package proactor

import (
	"fmt"

	"github.com/xtaci/proactor/driver"
	"github.com/xtaci/proactor/driver/iocp"
)

// NewDefault constructs the only backend Windows has: IOCP.
func NewDefault() (*Proactor, error) {
	return NewBuilder().Build()
}

// Build realizes the Builder's configuration on Windows, where IOCP is
// the only backend; asking for anything else is an error.
func (b *Builder) Build() (*Proactor, error) {
	if b.kind != "" && b.kind != driver.KindIOCP {
		return nil, fmt.Errorf("proactor: driver %q is not available on windows", b.kind)
	}
	d, err := iocp.New()
	if err != nil {
		return nil, err
	}
	return New(d), nil
}
