//go:build !linux

package gpio

import "errors"

// RealBackend is not available on non-Linux platforms.
type RealBackend struct{}

// NewRealBackend returns an error on non-Linux platforms.
func NewRealBackend(chipName string) (*RealBackend, error) {
	return nil, errors.Join(ErrPinUnavailable, errors.New("gpio: not supported on this platform (requires Linux)"))
}

// Open is not implemented on non-Linux platforms.
func (b *RealBackend) Open(number int) (Pin, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *RealBackend) Close() error {
	return nil
}
