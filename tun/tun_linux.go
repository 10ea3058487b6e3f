//go:build linux

// Package tun opens and drives the TUN/TAP character device this stack
// treats as its one network interface: every IPv4 datagram the TCP/ICMP
// layers emit is framed in Ethernet and written here, and every frame read
// back is handed to the ARP/IPv4 dispatch.
package tun

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open TAP interface.
type Device struct {
	fd   int
	name string
}

// Open creates (or attaches to) the named TAP interface, puts it in
// no-packet-info mode (the frames this stack reads and writes are bare
// Ethernet, no leading flags/protocol prefix), and, if addr is valid,
// brings the interface up and assigns addr to it via the external `ip`
// tool — this stack never builds its own netlink client, matching the
// teacher's own shortcut of shelling out for interface configuration.
func Open(name string, addr netip.Prefix) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.New("tun: interface name too long")
	}
	fd, err := unix.Open("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tun: open /dev/net/tun: %w", err)
	}
	ifr := makeifreq(name)
	ifr.setflags(uint16(unix.IFF_TAP | unix.IFF_NO_PI))
	if err := ioctl(fd, unix.TUNSETIFF, ifr.ptr()); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: TUNSETIFF: %w", err)
	}

	if addr.IsValid() {
		if err := exec.Command("ip", "link", "set", "dev", name, "up").Run(); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("tun: bring interface up: %w", err)
		}
		if err := exec.Command("ip", "addr", "add", addr.String(), "dev", name).Run(); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("tun: assign address: %w", err)
		}
	}
	return &Device{fd: fd, name: name}, nil
}

// Read reads one raw Ethernet frame from the device.
func (d *Device) Read(b []byte) (int, error) { return unix.Read(d.fd, b) }

// Write writes one raw Ethernet frame to the device.
func (d *Device) Write(b []byte) (int, error) { return unix.Write(d.fd, b) }

// Close releases the device's file descriptor.
func (d *Device) Close() error { return unix.Close(d.fd) }

// Name returns the interface name this Device was opened with.
func (d *Device) Name() string { return d.name }

// MTU returns the interface's configured MTU.
func (d *Device) MTU() (int, error) {
	sock, err := d.ctlSocket()
	if err != nil {
		return 0, err
	}
	defer unix.Close(sock)
	ifr := makeifreq(d.name)
	if err := ioctl(sock, unix.SIOCGIFMTU, ifr.ptr()); err != nil {
		return 0, err
	}
	mtu := *(*int32)(unsafe.Pointer(&ifr.data[0]))
	return int(mtu), nil
}

// HardwareAddress6 returns the interface's MAC address, as assigned by the
// kernel when the TAP device was created.
func (d *Device) HardwareAddress6() (hw [6]byte, err error) {
	sock, err := d.ctlSocket()
	if err != nil {
		return hw, err
	}
	defer unix.Close(sock)
	ifr := makeifreq(d.name)
	if err := ioctl(sock, unix.SIOCGIFHWADDR, ifr.ptr()); err != nil {
		return hw, err
	}
	copy(hw[:], ifr.data[2:8]) // first two bytes of ifr_hwaddr are sa_family
	return hw, nil
}

func (d *Device) ctlSocket() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_IP)
}

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}

// ifreq mirrors struct ifreq's layout closely enough for the ioctls this
// package issues: a fixed interface-name field followed by the union of
// request-specific data.
type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data [64]byte
}

func makeifreq(name string) ifreq {
	var ifr ifreq
	copy(ifr.name[:], name)
	return ifr
}

func (ifr *ifreq) setflags(flags uint16) {
	*(*uint16)(unsafe.Pointer(&ifr.data[0])) = flags
}

func (ifr *ifreq) ptr() unsafe.Pointer { return unsafe.Pointer(ifr) }
