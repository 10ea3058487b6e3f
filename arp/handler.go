package arp

import (
	"context"
	"sync"
	"time"

	"github.com/juliusaf/usertcp"
	"github.com/juliusaf/usertcp/ethernet"
)

// query tracks one in-flight hardware-address resolution.
type query struct {
	proto    [4]byte
	hwaddr   [6]byte
	resolved bool
}

// resendInterval is how often Resolve re-sends an unanswered ARP request.
const resendInterval = 200 * time.Millisecond

// Resolver answers ARP requests directed at this host and resolves the
// hardware address of a protocol address before the first SYN of a
// connection can be framed onto the wire.
//
// Resolver is safe for concurrent use: Demux is called from the single
// goroutine reading the TAP device, while Resolve may be called
// concurrently by any number of connecting sockets.
type Resolver struct {
	mu   sync.Mutex
	cond *sync.Cond

	ourHW  [6]byte
	ourIP  [4]byte
	maxLen int
	log    *usertcp.Logger

	pending []query
}

// NewResolver returns a Resolver that answers on behalf of ourHW/ourIP and
// holds at most maxPending concurrent unresolved queries.
func NewResolver(ourHW [6]byte, ourIP [4]byte, maxPending int, log *usertcp.Logger) *Resolver {
	r := &Resolver{ourHW: ourHW, ourIP: ourIP, maxLen: maxPending, log: log}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// UpdateLocalAddr updates the protocol address the Resolver answers for.
func (r *Resolver) UpdateLocalAddr(ip [4]byte) {
	r.mu.Lock()
	r.ourIP = ip
	r.mu.Unlock()
}

func (r *Resolver) find(proto [4]byte) int {
	for i := range r.pending {
		if r.pending[i].proto == proto {
			return i
		}
	}
	return -1
}

func (r *Resolver) compact() {
	kept := r.pending[:0]
	for _, q := range r.pending {
		if !q.resolved {
			kept = append(kept, q)
		}
	}
	r.pending = kept
}

// StartQuery registers target as a pending resolution, to be re-requested
// by Resolve's retransmit loop until Demux resolves it or the caller's
// context is done. It is idempotent: calling it again for an address
// already pending is a no-op.
func (r *Resolver) StartQuery(target [4]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.find(target) >= 0 {
		return nil
	}
	if len(r.pending) >= r.maxLen {
		r.compact()
		if len(r.pending) >= r.maxLen {
			return errQueriesFull
		}
	}
	r.pending = append(r.pending, query{proto: target})
	return nil
}

// Encapsulate writes an ARP request for target into buf, which must be at
// least 28 bytes long, and returns the number of bytes written.
func (r *Resolver) Encapsulate(buf []byte, target [4]byte) (int, error) {
	afrm, err := NewFrame(buf)
	if err != nil {
		return 0, err
	}
	afrm.ClearHeader()
	afrm.SetHardware(1) // Ethernet
	afrm.SetProtocol(ethernet.TypeIPv4)
	afrm.SetLengths(6, 4)
	afrm.SetOperation(OpRequest)
	sndhw, sndpt := afrm.Sender()
	r.mu.Lock()
	*sndhw = r.ourHW
	*sndpt = r.ourIP
	r.mu.Unlock()
	tgthw, tgtpt := afrm.Target()
	*tgthw = [6]byte{}
	*tgtpt = target
	return sizeHeaderv4, nil
}

// Demux processes a received ARP packet: if it resolves a pending query
// the query is marked resolved and any Resolve callers waiting on it wake
// up; if it is a request for our own address it is rewritten in place into
// the reply and answered reports true, ready for the caller to frame and
// write back to the TAP device.
func (r *Resolver) Demux(buf []byte) (answered bool, err error) {
	afrm, err := NewFrame(buf)
	if err != nil {
		return false, err
	}
	var v usertcp.Validator
	afrm.ValidateSize(&v)
	if err := v.Err(); err != nil {
		return false, err
	}
	sndhw, sndpt := afrm.Sender()
	_, tgtpt := afrm.Target()

	r.mu.Lock()
	if i := r.find(*sndpt); i >= 0 && !r.pending[i].resolved {
		r.pending[i].hwaddr = *sndhw
		r.pending[i].resolved = true
		r.log.Debug("arp: resolved", "addr", *sndpt, "hw", *sndhw)
		r.cond.Broadcast()
	}
	isOurs := *tgtpt == r.ourIP
	ourHW, ourIP := r.ourHW, r.ourIP
	r.mu.Unlock()

	if afrm.Operation() != OpRequest || !isOurs {
		return false, nil
	}

	afrm.SetOperation(OpReply)
	tgthw, newtgtpt := afrm.Target()
	*tgthw = *sndhw
	*newtgtpt = *sndpt
	*sndhw, *sndpt = ourHW, ourIP
	return true, nil
}

// Resolve blocks until target's hardware address is learned, resending a
// request via send every resendInterval, or until ctx is done.
func (r *Resolver) Resolve(ctx context.Context, target [4]byte, send func([]byte) error) ([6]byte, error) {
	if err := r.StartQuery(target); err != nil {
		return [6]byte{}, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(resendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				r.mu.Lock()
				r.cond.Broadcast()
				r.mu.Unlock()
				return
			case <-ticker.C:
				var buf [sizeHeaderv4]byte
				if n, err := r.Encapsulate(buf[:], target); err == nil {
					if err := send(buf[:n]); err != nil {
						r.log.Error("arp: resend failed", "err", err)
					}
				}
				r.mu.Lock()
				r.cond.Broadcast()
				r.mu.Unlock()
			}
		}
	}()

	var buf [sizeHeaderv4]byte
	if n, err := r.Encapsulate(buf[:], target); err == nil {
		if err := send(buf[:n]); err != nil {
			r.log.Error("arp: send failed", "err", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if i := r.find(target); i >= 0 && r.pending[i].resolved {
			return r.pending[i].hwaddr, nil
		}
		if ctx.Err() != nil {
			return [6]byte{}, errResolveTimeout
		}
		r.cond.Wait()
	}
}
