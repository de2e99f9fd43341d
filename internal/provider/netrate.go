package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/net"
)

// DefaultNetDev is read on Linux; other systems ask the kernel directly.
const DefaultNetDev = "/proc/net/dev"

// NetRate reports the download rate in MB/s from successive samples of the
// kernel's per-interface byte counters. The first poll only primes the
// counter and fails transiently.
type NetRate struct {
	Path      string
	Interface string // empty sums every interface except loopback

	now func() time.Time

	mu     sync.Mutex
	bytes  uint64
	sample time.Time
}

func NewNetRate(iface string) *NetRate {
	return &NetRate{Path: DefaultNetDev, Interface: iface, now: time.Now}
}

func (n *NetRate) Name() string {
	return "procnet"
}

var errPriming = errors.New("priming byte counter")

func (n *NetRate) Poll(ctx context.Context) (float64, error) {
	counters, err := net.IOCountersByFileWithContext(ctx, true, n.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, NewPermanent(err)
		}
		return 0, err
	}
	total, found := received(counters, n.Interface)
	if !found {
		return 0, NewPermanent(fmt.Errorf("interface %q not found", n.Interface))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	prevBytes, prevAt := n.bytes, n.sample
	n.bytes, n.sample = total, now

	if prevAt.IsZero() {
		return 0, errPriming
	}
	elapsed := now.Sub(prevAt).Seconds()
	if elapsed <= 0 || total < prevBytes {
		// counter reset or clock step
		return 0, errPriming
	}
	return float64(total-prevBytes) / elapsed / 1e6, nil
}

// received sums received bytes for iface, or for every interface except
// loopback when iface is empty.
func received(counters []net.IOCountersStat, iface string) (uint64, bool) {
	var total uint64
	found := iface == ""
	for _, c := range counters {
		if iface == "" && c.Name == "lo" || iface != "" && c.Name != iface {
			continue
		}
		total += c.BytesRecv
		found = true
	}
	return total, found
}
