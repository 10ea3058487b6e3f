//go:build !linux

package tun

import (
	"errors"
	"net/netip"
)

// Device is the non-Linux stub: this stack's TUN/TAP layer is Linux-only,
// same restriction the teacher's own tap.go carried.
type Device struct{}

func Open(name string, addr netip.Prefix) (*Device, error) {
	return nil, errors.ErrUnsupported
}

func (d *Device) Read(b []byte) (int, error)    { return 0, errors.ErrUnsupported }
func (d *Device) Write(b []byte) (int, error)   { return 0, errors.ErrUnsupported }
func (d *Device) Close() error                  { return errors.ErrUnsupported }
func (d *Device) Name() string                  { return "" }
func (d *Device) MTU() (int, error)             { return 0, errors.ErrUnsupported }
func (d *Device) HardwareAddress6() ([6]byte, error) {
	return [6]byte{}, errors.ErrUnsupported
}
