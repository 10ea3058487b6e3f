package netif

import (
	"net/netip"
	"testing"

	"github.com/juliusaf/usertcp"
	"github.com/juliusaf/usertcp/ipv4"
	"github.com/juliusaf/usertcp/ipv4/icmpv4"
)

func testInterface() *Interface {
	return &Interface{
		prefix:  netip.MustParsePrefix("10.0.0.2/24"),
		gateway: netip.MustParseAddr("10.0.0.1"),
	}
}

func TestNextHopOnLinkIsDestinationItself(t *testing.T) {
	ifc := testInterface()
	dst := netip.MustParseAddr("10.0.0.55")
	if got := ifc.nextHop(dst); got != dst {
		t.Fatalf("nextHop(%s) = %s, want the destination itself (on-link)", dst, got)
	}
}

func TestNextHopOffLinkIsGateway(t *testing.T) {
	ifc := testInterface()
	dst := netip.MustParseAddr("8.8.8.8")
	if got := ifc.nextHop(dst); got != ifc.gateway {
		t.Fatalf("nextHop(%s) = %s, want the gateway %s", dst, got, ifc.gateway)
	}
}

func buildEchoRequest(t *testing.T, id, seq uint16, data []byte) (ipv4.Frame, icmpv4.Frame) {
	t.Helper()
	const sizeIPHeader = 20
	const sizeICMPHeader = 8
	buf := make([]byte, sizeIPHeader+sizeICMPHeader+len(data))

	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(len(buf)))
	ifrm.SetID(7)
	ifrm.SetTTL(64)
	ifrm.SetProtocol(usertcp.IPProtoICMP)
	*ifrm.SourceAddr() = netip.MustParseAddr("10.0.0.55").As4()
	*ifrm.DestinationAddr() = netip.MustParseAddr("10.0.0.2").As4()
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	icfrm, err := icmpv4.NewFrame(buf[sizeIPHeader:])
	if err != nil {
		t.Fatal(err)
	}
	icfrm.SetType(icmpv4.TypeEcho)
	icfrm.SetCode(0)
	echo := icmpv4.Echo{Frame: icfrm}
	echo.SetIdentifier(id)
	echo.SetSequenceNumber(seq)
	copy(echo.Data(), data)
	var crc usertcp.CRC791
	icfrm.CRCWrite(&crc)
	icfrm.SetCRC(usertcp.NeverZeroChecksum(crc.Sum16()))

	return ifrm, icfrm
}

func TestBuildEchoReplySwapsAddressesAndChecksumsCleanly(t *testing.T) {
	data := []byte("ping-payload")
	ifrm, _ := buildEchoRequest(t, 42, 1, data)

	reply, err := buildEchoReply(ifrm)
	if err != nil {
		t.Fatal(err)
	}
	if reply == nil {
		t.Fatal("buildEchoReply returned nil for a valid echo request")
	}

	replyIP, err := ipv4.NewFrame(reply)
	if err != nil {
		t.Fatal(err)
	}
	if replyIP.CRC() != replyIP.CalculateHeaderCRC() {
		t.Error("reply IPv4 header checksum does not verify")
	}
	if *replyIP.SourceAddr() != netip.MustParseAddr("10.0.0.2").As4() {
		t.Error("reply source address should be our own address")
	}
	if *replyIP.DestinationAddr() != netip.MustParseAddr("10.0.0.55").As4() {
		t.Error("reply destination address should be the original requester")
	}

	replyICMP, err := icmpv4.NewFrame(replyIP.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if replyICMP.Type() != icmpv4.TypeEchoReply {
		t.Fatalf("reply type = %v, want TypeEchoReply", replyICMP.Type())
	}
	var crc usertcp.CRC791
	replyICMP.CRCWrite(&crc)
	if crc.Sum16() != 0 {
		t.Error("reply ICMP checksum does not verify")
	}
	echo := icmpv4.Echo{Frame: replyICMP}
	if echo.Identifier() != 42 || echo.SequenceNumber() != 1 {
		t.Errorf("reply echo id/seq = %d/%d, want 42/1", echo.Identifier(), echo.SequenceNumber())
	}
	if string(echo.Data()) != string(data) {
		t.Errorf("reply echo data = %q, want %q", echo.Data(), data)
	}
}
