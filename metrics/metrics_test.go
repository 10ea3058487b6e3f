package metrics

import (
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/juliusaf/usertcp/tcp"
)

func TestCollectorReportsCountersAfterHooks(t *testing.T) {
	table := tcp.NewTable(4)
	c := NewCollector(table)
	hooks := c.Metrics()

	hooks.BytesSent(100)
	hooks.BytesSent(50)
	hooks.BytesReceived(30)
	hooks.Retransmit()
	hooks.IllegalSegment()
	hooks.IllegalSegment()

	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	got := map[string]float64{}
	for m := range ch {
		var out dto.Metric
		if err := m.Write(&out); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if out.Counter != nil {
			got[m.Desc().String()] = out.Counter.GetValue()
		}
	}

	wantCounter := func(substr string, want float64) {
		for name, v := range got {
			if containsSubstr(name, substr) {
				if v != want {
					t.Errorf("counter matching %q = %v, want %v", substr, v, want)
				}
				return
			}
		}
		t.Errorf("no collected counter matched %q", substr)
	}
	wantCounter("usertcp_bytes_sent_total", 150)
	wantCounter("usertcp_bytes_received_total", 30)
	wantCounter("usertcp_retransmits_total", 1)
	wantCounter("usertcp_illegal_segments_total", 2)
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestCollectorEmitsADescPerSeries(t *testing.T) {
	table := tcp.NewTable(2)
	c := NewCollector(table)

	var iss tcp.ISSClock
	conn := tcp.NewConn(func(netip.Addr, []byte) error { return nil }, &iss, nil)
	table.Alloc(conn)

	descs := make(chan *prometheus.Desc, 8)
	c.Describe(descs)
	close(descs)
	if len(descs) != 5 { // 1 connections-by-state gauge desc + 4 counter descs
		t.Fatalf("Describe emitted %d descs, want 5", len(descs))
	}
}
