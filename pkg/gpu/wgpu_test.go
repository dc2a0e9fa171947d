//go:build wgpu

package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWGPUDeviceMatchesHostDevice(t *testing.T) {
	dev, err := NewWGPUDevice()
	if errors.Is(err, ErrNoAdapter) {
		t.Skip("no gpu adapter")
	}
	require.NoError(t, err)

	setup := hostSetup(t, "00", 4096)
	require.NoError(t, dev.Setup(setup))
	defer dev.Release()

	host := NewHostDevice()
	require.NoError(t, host.Setup(setup))
	defer host.Release()

	for _, nonce := range []uint64{0, 5, 1 << 40} {
		flags, err := dev.RunBatch(nonce)
		require.NoError(t, err)
		want, err := host.RunBatch(nonce)
		require.NoError(t, err)
		require.Equal(t, want, append([]uint32(nil), flags...), "flags of batch %d", nonce)

		lanes := []uint32{0, 1, 4095}
		for i, f := range want {
			if f != 0 {
				lanes = append(lanes, uint32(i))
			}
		}
		got, err := dev.ReadRecords(lanes)
		require.NoError(t, err)
		expected, err := host.ReadRecords(lanes)
		require.NoError(t, err)
		assert.Equal(t, expected, got, "records of batch %d", nonce)

		require.NoError(t, dev.Unmap())
		require.NoError(t, host.Unmap())
	}
}
