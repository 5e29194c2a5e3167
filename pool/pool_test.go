package pool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xtaci/proactor/pool"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := pool.New(2, 64)
	require.Equal(t, 2, p.Available())

	l1, err := p.Acquire()
	require.NoError(t, err)
	require.Len(t, l1.Bytes(), 64)
	require.Equal(t, 1, p.Available())

	l1.SetInit(10)
	require.Equal(t, 10, l1.Init())

	require.NoError(t, l1.Close())
	require.Equal(t, 2, p.Available())
}

func TestAcquireExhausted(t *testing.T) {
	p := pool.New(1, 16)
	l, err := p.Acquire()
	require.NoError(t, err)
	defer l.Close()

	_, err = p.Acquire()
	require.Error(t, err)
}

func TestSetInitOutOfRangePanics(t *testing.T) {
	p := pool.New(1, 8)
	l, err := p.Acquire()
	require.NoError(t, err)
	require.Panics(t, func() { l.SetInit(9) })
}
