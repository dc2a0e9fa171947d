//go:build !wgpu

package gpu

// NewWGPUDevice reports that this binary has no hardware GPU support.
func NewWGPUDevice() (Device, error) {
	return nil, ErrUnavailable
}
