// Package netif is the device loop: it owns the TAP file descriptor, reads
// raw Ethernet frames off it and demultiplexes them into the ARP resolver,
// the ICMP echo responder and the TCP dispatch, and supplies tcp.Conn with
// the DatagramSender that resolves a next hop's hardware address before
// writing an outbound datagram back to the device.
package netif

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/juliusaf/usertcp"
	"github.com/juliusaf/usertcp/arp"
	"github.com/juliusaf/usertcp/ethernet"
	"github.com/juliusaf/usertcp/ipv4"
	"github.com/juliusaf/usertcp/ipv4/icmpv4"
	"github.com/juliusaf/usertcp/tcp"
	"github.com/juliusaf/usertcp/tun"
)

const sizeIPv4Header = 20

// arpResolveTimeout bounds how long the DatagramSender built by Sender
// waits for a next-hop hardware address to resolve before reporting the
// send as failed; Conn's own send-retry loop decides whether to try again.
const arpResolveTimeout = 2 * time.Second

// maxFrame is the largest Ethernet frame this loop will read; comfortably
// above the largest segment this stack sends (a tcpSafeMTU-byte payload
// plus IPv4, TCP and Ethernet headers).
const maxFrame = 2048

// Config describes the TAP interface to attach to.
type Config struct {
	// Name is the TAP device name, created if it does not already exist.
	Name string
	// Address is this host's address and subnet mask on the interface.
	Address netip.Prefix
	// Gateway is the next hop for any destination outside Address's subnet.
	Gateway netip.Addr
	// MaxPendingARP bounds the number of concurrent unresolved ARP queries.
	MaxPendingARP int
}

// Interface wires a TAP device to the ARP resolver, the ICMP echo
// responder and a TCP socket table.
type Interface struct {
	dev      *tun.Device
	resolver *arp.Resolver
	table    *tcp.Table

	prefix  netip.Prefix
	gateway netip.Addr
	ourIP   [4]byte
	ourHW   [6]byte

	ports *tcp.PortAllocator
	log   *usertcp.Logger
}

// Open creates or attaches to the configured TAP device and returns an
// Interface ready to be run. table is the connection registry TCP segments
// are dispatched into.
func Open(cfg Config, table *tcp.Table, log *usertcp.Logger) (*Interface, error) {
	dev, err := tun.Open(cfg.Name, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("netif: open %s: %w", cfg.Name, err)
	}
	hw, err := dev.HardwareAddress6()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("netif: read hardware address: %w", err)
	}
	maxPending := cfg.MaxPendingARP
	if maxPending <= 0 {
		maxPending = 32
	}
	ourIP := cfg.Address.Addr().As4()
	return &Interface{
		dev:      dev,
		resolver: arp.NewResolver(hw, ourIP, maxPending, log),
		table:    table,
		prefix:   cfg.Address,
		gateway:  cfg.Gateway,
		ourIP:    ourIP,
		ourHW:    hw,
		ports:    tcp.NewPortAllocator(),
		log:      log,
	}, nil
}

// Close releases the underlying TAP device.
func (ifc *Interface) Close() error { return ifc.dev.Close() }

// ReserveLocal returns this interface's own address together with a fresh
// ephemeral port, the 4-tuple's local half for a new outbound connection.
func (ifc *Interface) ReserveLocal() (netip.Addr, uint16) {
	return ifc.prefix.Addr(), ifc.ports.Next()
}

// Sender returns the tcp.DatagramSender every Conn registered in ifc's
// table should use: it resolves daddr's next-hop hardware address (on-link
// destinations directly, everything else via the configured gateway),
// blocking on the resolver's retry loop, then writes the datagram as an
// Ethernet II frame to the TAP device.
func (ifc *Interface) Sender() tcp.DatagramSender {
	return func(daddr netip.Addr, datagram []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), arpResolveTimeout)
		defer cancel()
		hw, err := ifc.resolveNextHop(ctx, daddr)
		if err != nil {
			return fmt.Errorf("netif: resolve %s: %w", daddr, err)
		}
		return ifc.writeEthernet(hw, ethernet.TypeIPv4, datagram)
	}
}

func (ifc *Interface) nextHop(dst netip.Addr) netip.Addr {
	if ifc.prefix.Contains(dst) {
		return dst
	}
	return ifc.gateway
}

func (ifc *Interface) resolveNextHop(ctx context.Context, dst netip.Addr) ([6]byte, error) {
	target := ifc.nextHop(dst).As4()
	return ifc.resolver.Resolve(ctx, target, ifc.writeARP)
}

func (ifc *Interface) writeARP(payload []byte) error {
	return ifc.writeEthernet(ethernet.BroadcastAddr(), ethernet.TypeARP, payload)
}

func (ifc *Interface) writeEthernet(dst [6]byte, et ethernet.Type, payload []byte) error {
	buf := make([]byte, ethernetHeaderLen+len(payload))
	efrm, err := ethernet.NewFrame(buf)
	if err != nil {
		return err
	}
	efrm.ClearHeader()
	*efrm.DestinationHardwareAddr() = dst
	*efrm.SourceHardwareAddr() = ifc.ourHW
	efrm.SetEtherType(et)
	copy(efrm.Payload(), payload)
	_, err = ifc.dev.Write(buf)
	return err
}

// ethernetHeaderLen mirrors ethernet's unexported sizeHeader; duplicated
// here since the 14-byte Ethernet II header length is effectively a public
// constant of the wire format, not an implementation detail of that
// package.
const ethernetHeaderLen = 14

// Run reads frames from the TAP device until ctx is done or a read fails,
// dispatching each to ARP, the ICMP echo responder, or the TCP table in
// turn. It is meant to run on its own goroutine, one per Interface: the
// resolver and table are both safe for concurrent use from any number of
// callers while Run owns the read side alone.
func (ifc *Interface) Run(ctx context.Context) error {
	buf := make([]byte, maxFrame)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := ifc.dev.Read(buf)
		if err != nil {
			return fmt.Errorf("netif: read: %w", err)
		}
		ifc.handleFrame(buf[:n])
	}
}

func (ifc *Interface) handleFrame(raw []byte) {
	efrm, err := ethernet.NewFrame(raw)
	if err != nil {
		ifc.log.Debug("netif: short frame", "err", err)
		return
	}
	switch efrm.EtherType() {
	case ethernet.TypeARP:
		ifc.handleARP(efrm.Payload())
	case ethernet.TypeIPv4:
		ifc.handleIPv4(*efrm.SourceHardwareAddr(), efrm.Payload())
	default:
		ifc.log.Trace("netif: unhandled ethertype", "type", efrm.EtherType())
	}
}

func (ifc *Interface) handleARP(payload []byte) {
	answered, err := ifc.resolver.Demux(payload)
	if err != nil {
		ifc.log.Debug("netif: arp demux", "err", err)
		return
	}
	if !answered {
		return
	}
	afrm, err := arp.NewFrame(payload)
	if err != nil {
		return
	}
	targetHW, _ := afrm.Target() // Demux rewrote Target to the original requester.
	if err := ifc.writeEthernet(*targetHW, ethernet.TypeARP, payload); err != nil {
		ifc.log.Error("netif: arp reply failed", "err", err)
	}
}

func (ifc *Interface) handleIPv4(srcHW [6]byte, payload []byte) {
	ifrm, err := ipv4.NewFrame(payload)
	if err != nil {
		ifc.log.Debug("netif: short ipv4 frame", "err", err)
		return
	}
	var v usertcp.Validator
	ifrm.ValidateExceptCRC(&v)
	if err := v.Err(); err != nil {
		ifc.log.Debug("netif: malformed ipv4 header", "err", err)
		return
	}
	if ifrm.CRC() != ifrm.CalculateHeaderCRC() {
		ifc.log.Debug("netif: bad ipv4 header checksum")
		return
	}
	if *ifrm.DestinationAddr() != ifc.ourIP {
		return // not addressed to us: this stack has no forwarding path.
	}

	switch ifrm.Protocol() {
	case usertcp.IPProtoICMP:
		ifc.handleICMP(srcHW, ifrm)
	case usertcp.IPProtoTCP:
		ifc.handleTCP(ifrm)
	default:
		ifc.log.Trace("netif: unhandled ip protocol", "proto", ifrm.Protocol())
	}
}

func (ifc *Interface) handleTCP(ifrm ipv4.Frame) {
	payload := ifrm.Payload()
	tfrm, err := tcp.NewFrame(payload)
	if err != nil {
		ifc.log.Debug("netif: short tcp frame", "err", err)
		return
	}
	var v usertcp.Validator
	tfrm.ValidateExceptCRC(&v)
	if err := v.Err(); err != nil {
		ifc.log.Debug("netif: malformed tcp header", "err", err)
		return
	}
	if err := tcp.Dispatch(ifc.table, ifrm, tfrm); err != nil {
		ifc.log.Trace("netif: tcp dispatch", "err", err)
	}
}

// handleICMP answers an echo request directed at our address in place: it
// validates the ICMP checksum, then writes the reply straight back to
// srcHW, the hardware address the request itself arrived from — no ARP
// resolution needed, since the requester's address was just learned off
// the wire.
func (ifc *Interface) handleICMP(srcHW [6]byte, ifrm ipv4.Frame) {
	reply, err := buildEchoReply(ifrm)
	if err != nil {
		ifc.log.Debug("netif: icmp echo", "err", err)
		return
	}
	if reply == nil {
		return // not an answerable echo request.
	}
	if err := ifc.writeEthernet(srcHW, ethernet.TypeIPv4, reply); err != nil {
		ifc.log.Error("netif: icmp echo reply failed", "err", err)
	}
}

// buildEchoReply lays out a complete echo-reply IPv4 datagram answering the
// echo request carried by ifrm, source and destination swapped. It returns a
// nil buffer, no error, when ifrm's payload is not an answerable echo
// request (wrong type, or a checksum that does not validate).
func buildEchoReply(ifrm ipv4.Frame) ([]byte, error) {
	icmpLen := len(ifrm.Payload())
	total := sizeIPv4Header + icmpLen
	buf := make([]byte, total)
	copy(buf[sizeIPv4Header:], ifrm.Payload())

	answered, err := icmpv4.Reply(buf[sizeIPv4Header:])
	if err != nil || !answered {
		return nil, err
	}

	out, err := ipv4.NewFrame(buf)
	if err != nil {
		return nil, err
	}
	out.ClearHeader()
	out.SetVersionAndIHL(4, 5)
	out.SetTotalLength(uint16(total))
	out.SetID(ifrm.ID())
	out.SetTTL(64)
	out.SetProtocol(usertcp.IPProtoICMP)
	*out.SourceAddr() = *ifrm.DestinationAddr()
	*out.DestinationAddr() = *ifrm.SourceAddr()
	out.SetCRC(out.CalculateHeaderCRC())

	return buf, nil
}
