// Command usertapd runs this stack's device loop standalone: it opens a
// TAP interface, answers ARP and ICMP echo on it, and dispatches inbound
// TCP segments into a socket table, without itself offering any
// application-facing API. It exists to exercise netif/tcp/metrics end to
// end and as a target to attach the libc shim's socket table to over a
// future RPC boundary; today it is a standalone diagnostic binary.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juliusaf/usertcp"
	"github.com/juliusaf/usertcp/metrics"
	"github.com/juliusaf/usertcp/netif"
	"github.com/juliusaf/usertcp/tcp"
)

func main() {
	if err := run(); err != nil {
		log.Fatalln("usertapd:", err)
	}
}

func run() error {
	var (
		flagIface      = flag.String("iface", "tap0", "TAP interface name")
		flagAddr       = flag.String("addr", "192.168.10.1/24", "interface address/prefix")
		flagGateway    = flag.String("gateway", "192.168.10.254", "off-link next hop")
		flagMetricAddr = flag.String("metrics-addr", "127.0.0.1:9256", "Prometheus /metrics listen address")
		flagMaxConns   = flag.Int("max-conns", 64, "maximum concurrently managed connections")
	)
	flag.Parse()

	log := usertcp.NewLogger(slog.Default())

	prefix, err := netip.ParsePrefix(*flagAddr)
	if err != nil {
		return err
	}
	gateway, err := netip.ParseAddr(*flagGateway)
	if err != nil {
		return err
	}

	table := tcp.NewTable(*flagMaxConns)
	iface, err := netif.Open(netif.Config{
		Name:    *flagIface,
		Address: prefix,
		Gateway: gateway,
	}, table, log)
	if err != nil {
		return err
	}
	defer iface.Close()

	collector := metrics.NewCollector(table)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		log.Error("usertapd: metrics server exited", "err", http.ListenAndServe(*flagMetricAddr, mux))
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("usertapd: listening", "iface", *flagIface, "addr", prefix, "metrics", *flagMetricAddr)
	err = iface.Run(ctx)
	if ctx.Err() != nil {
		return nil // a requested shutdown, not a failure
	}
	return err
}
