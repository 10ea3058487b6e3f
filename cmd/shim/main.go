// Command shim is the libc interposition layer, built with
// `go build -buildmode=c-shared`. It exports usertcp_socket,
// usertcp_connect, usertcp_send, usertcp_recv and usertcp_close, which
// route AF_INET/SOCK_STREAM sockets into this stack and fall through to the
// real libc implementation, resolved once via dlsym(RTLD_NEXT, ...), for
// everything else — the same shape as a classic LD_PRELOAD socket wrapper,
// translated from dlsym'd C function pointers into cgo calls. The library
// does not define socket, connect, send, recv or close symbols itself, so
// preloading it alone does not redirect those calls of an unmodified
// program; only callers of the usertcp_* entry points reach this stack.
package main

/*
#define _GNU_SOURCE
#include <dlfcn.h>
#include <errno.h>
#include <sys/socket.h>
#include <netinet/in.h>
#include <unistd.h>

static int (*real_socket)(int, int, int) = 0;
static int (*real_connect)(int, const struct sockaddr *, socklen_t) = 0;
static ssize_t (*real_send)(int, const void *, size_t, int) = 0;
static ssize_t (*real_recv)(int, void *, size_t, int) = 0;
static int (*real_close)(int) = 0;

static void resolve_real_symbols(void) {
	if (!real_socket)  real_socket  = dlsym(RTLD_NEXT, "socket");
	if (!real_connect) real_connect = dlsym(RTLD_NEXT, "connect");
	if (!real_send)    real_send    = dlsym(RTLD_NEXT, "send");
	if (!real_recv)    real_recv    = dlsym(RTLD_NEXT, "recv");
	if (!real_close)   real_close   = dlsym(RTLD_NEXT, "close");
}

static int call_real_socket(int domain, int type, int protocol) {
	resolve_real_symbols();
	return real_socket(domain, type, protocol);
}
static int call_real_connect(int fd, const struct sockaddr *addr, socklen_t len) {
	resolve_real_symbols();
	return real_connect(fd, addr, len);
}
static ssize_t call_real_send(int fd, const void *buf, size_t n, int flags) {
	resolve_real_symbols();
	return real_send(fd, buf, n, flags);
}
static ssize_t call_real_recv(int fd, void *buf, size_t n, int flags) {
	resolve_real_symbols();
	return real_recv(fd, buf, n, flags);
}
static int call_real_close(int fd) {
	resolve_real_symbols();
	return real_close(fd);
}

// sockaddr_in_parts reads the fields a struct sockaddr_in needs out of a
// generic struct sockaddr, since cgo cannot itself depend on the address
// family to reinterpret the union.
static void sockaddr_in_parts(const struct sockaddr *addr, unsigned short *family,
                               unsigned short *port, unsigned int *ip) {
	const struct sockaddr_in *in = (const struct sockaddr_in *)addr;
	*family = in->sin_family;
	*port = in->sin_port;
	*ip = in->sin_addr.s_addr;
}
*/
import "C"

import (
	"context"
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"unsafe"

	"github.com/juliusaf/usertcp"
	"github.com/juliusaf/usertcp/metrics"
	"github.com/juliusaf/usertcp/netif"
	"github.com/juliusaf/usertcp/tcp"
)

// process is the one shim-wide instance of this stack's socket table and
// network interface, lazily opened on the first intercepted socket() call
// — a preloaded shared library has no main() of its own to do this setup
// in ahead of time.
var process struct {
	once  sync.Once
	log   *usertcp.Logger
	table *tcp.Table
	iface *netif.Interface
	iss   tcp.ISSClock
	err   error
}

// environment variables controlling the shim, read once at first use;
// there is no argv to flag.Parse against inside a preloaded library.
const (
	envIface   = "USERTCP_IFACE"
	envAddr    = "USERTCP_ADDR"
	envGateway = "USERTCP_GATEWAY"
)

func ensureStarted() error {
	process.once.Do(func() {
		process.log = usertcp.NewLogger(slog.Default())

		iface := getenvDefault(envIface, "tap0")
		addrStr := getenvDefault(envAddr, "192.168.10.1/24")
		gatewayStr := getenvDefault(envGateway, "192.168.10.254")

		prefix, err := netip.ParsePrefix(addrStr)
		if err != nil {
			process.err = err
			return
		}
		gateway, err := netip.ParseAddr(gatewayStr)
		if err != nil {
			process.err = err
			return
		}

		process.table = tcp.NewTable(64)
		netifc, err := netif.Open(netif.Config{Name: iface, Address: prefix, Gateway: gateway}, process.table, process.log)
		if err != nil {
			process.err = err
			return
		}
		process.iface = netifc

		collector := metrics.NewCollector(process.table)
		_ = collector // not registered or exposed anywhere; this library serves no /metrics

		go func() {
			if err := process.iface.Run(context.Background()); err != nil {
				process.log.Error("shim: device loop exited", "err", err)
			}
		}()
	})
	return process.err
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// isSupportedSocket mirrors is_socket_supported from the original C
// wrapper: AF_INET with the SOCK_STREAM bit set in type and protocol 0 or
// IPPROTO_TCP is ours, everything else (UDP, AF_UNIX, ...) is left to the
// real libc. The bit test also accepts SOCK_RAW (3), whose low bit is set.
func isSupportedSocket(domain, typ, protocol C.int) bool {
	const afInet = 2      // AF_INET
	const sockStream = 1  // SOCK_STREAM
	const ipprotoTCP = 6  // IPPROTO_TCP
	if int(domain) != afInet {
		return false
	}
	if int(typ)&sockStream == 0 {
		return false
	}
	if protocol != 0 && int(protocol) != ipprotoTCP {
		return false
	}
	return true
}

//export usertcp_socket
func usertcp_socket(domain, typ, protocol C.int) C.int {
	if !isSupportedSocket(domain, typ, protocol) {
		return C.call_real_socket(domain, typ, protocol)
	}
	if err := ensureStarted(); err != nil {
		C.errno = C.EIO
		return -1
	}
	conn := tcp.NewConn(process.iface.Sender(), &process.iss, process.log)
	fd := process.table.Alloc(conn)
	if fd < 0 {
		C.errno = C.ENOMEM
		return -1
	}
	return C.int(fd)
}

//export usertcp_connect
func usertcp_connect(fd C.int, addr *C.struct_sockaddr, addrlen C.socklen_t) C.int {
	conn := process.table.LookupFD(int(fd))
	if conn == nil {
		return C.call_real_connect(fd, addr, addrlen)
	}

	var family, port C.ushort
	var rawIP C.uint
	C.sockaddr_in_parts(addr, &family, &port, &rawIP)
	remote := netip.AddrFrom4([4]byte{
		byte(rawIP), byte(rawIP >> 8), byte(rawIP >> 16), byte(rawIP >> 24),
	})
	remotePort := uint16(port>>8) | uint16(port<<8) // sin_port is network byte order

	local, localPort := process.iface.ReserveLocal()
	tuple := tcp.Tuple{LocalAddr: local, LocalPort: localPort, RemoteAddr: remote, RemotePort: remotePort}
	if err := conn.Connect(tuple); err != nil {
		setErrno(err)
		return -1
	}
	return 0
}

//export usertcp_send
func usertcp_send(fd C.int, buf unsafe.Pointer, n C.size_t, flags C.int) C.ssize_t {
	conn := process.table.LookupFD(int(fd))
	if conn == nil {
		return C.call_real_send(fd, buf, n, flags)
	}
	data := C.GoBytes(buf, C.int(n))
	sent, err := conn.Send(data)
	if err != nil {
		setErrno(err)
		return -1
	}
	return C.ssize_t(sent)
}

//export usertcp_recv
func usertcp_recv(fd C.int, buf unsafe.Pointer, n C.size_t, flags C.int) C.ssize_t {
	conn := process.table.LookupFD(int(fd))
	if conn == nil {
		return C.call_real_recv(fd, buf, n, flags)
	}
	out := make([]byte, int(n))
	read, err := conn.Recv(out)
	if err != nil {
		setErrno(err)
		return -1
	}
	if read > 0 {
		dst := unsafe.Slice((*byte)(buf), int(n))
		copy(dst, out[:read])
	}
	return C.ssize_t(read)
}

//export usertcp_close
func usertcp_close(fd C.int) C.int {
	conn := process.table.LookupFD(int(fd))
	if conn == nil {
		return C.call_real_close(fd)
	}
	err := conn.Close()
	for !process.table.Remove(int(fd)) {
		// Close already waited for the terminal state; the lock only
		// contends with another goroutine's in-flight Send/Recv draining.
	}
	if err != nil {
		setErrno(err)
		return -1
	}
	return 0
}

func setErrno(err error) {
	var sockErr *tcp.SockError
	if se, ok := err.(*tcp.SockError); ok {
		sockErr = se
	}
	if sockErr == nil || sockErr.Errno() == 0 {
		C.errno = C.EIO
		return
	}
	C.errno = C.int(sockErr.Errno())
}

func main() {} // required by -buildmode=c-shared, never actually run
