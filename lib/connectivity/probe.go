package connectivity

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	gometrics "github.com/rcrowley/go-metrics"
)

// ProbeFunc checks the reachability of the remote service once.
type ProbeFunc func(ctx context.Context) error

// ProbeConfig configures a ProbeOracle. Zero values are replaced by the defaults.
type ProbeConfig struct {
	// Interval between two probes
	Interval time.Duration
	// Timeout of a single probe
	Timeout time.Duration
	// GoodLatency is the highest median latency still rated QualityGood
	GoodLatency time.Duration
	// ModerateLatency is the highest median latency still rated QualityModerate
	ModerateLatency time.Duration
	// FailureThreshold is the number of consecutive failed probes after which the oracle goes offline
	FailureThreshold int
	// Now is the clock used to measure probe latency, time.Now if nil
	Now func() time.Time
}

// DefaultProbeConfig returns the configuration used for zero fields.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Interval:         5 * time.Second,
		Timeout:          2 * time.Second,
		GoodLatency:      150 * time.Millisecond,
		ModerateLatency:  700 * time.Millisecond,
		FailureThreshold: 2,
		Now:              time.Now,
	}
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	d := DefaultProbeConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.GoodLatency <= 0 {
		c.GoodLatency = d.GoodLatency
	}
	if c.ModerateLatency <= 0 {
		c.ModerateLatency = d.ModerateLatency
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// ProbeOracle is an IOracle driven by periodic probes.
// The latency of successful probes is kept in an exponentially decaying histogram so
// recent measurements dominate the quality rating.
type ProbeOracle struct {
	probe ProbeFunc
	conf  ProbeConfig

	online   atomic.Bool
	failures atomic.Int64 // consecutive failed probes

	latency  gometrics.Histogram // successful probe latency in microseconds
	failed   gometrics.Counter   // failed probes in total
	checkMu  sync.Mutex          // serialises Check
	condMu   sync.RWMutex
	conds    Conditions
	subs     *subscribers
	stopOnce sync.Once
	stop     chan struct{}
}

// NewProbeOracle creates an oracle that starts offline until the first successful probe.
func NewProbeOracle(probe ProbeFunc, conf ProbeConfig) *ProbeOracle {
	return &ProbeOracle{
		probe:   probe,
		conf:    conf.withDefaults(),
		latency: gometrics.NewHistogram(gometrics.NewExpDecaySample(256, 0.015)),
		failed:  gometrics.NewCounter(),
		subs:    newSubscribers(),
		stop:    make(chan struct{}),
	}
}

// Start probes once and then keeps probing in the background until ctx is done or Stop is called.
func (o *ProbeOracle) Start(ctx context.Context) {
	o.Check(ctx)
	go func() {
		ticker := time.NewTicker(o.conf.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stop:
				return
			case <-ticker.C:
				o.Check(ctx)
			}
		}
	}()
}

// Stop ends the background probing.
func (o *ProbeOracle) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Check runs the probe once and updates the state. It returns the resulting online state.
func (o *ProbeOracle) Check(ctx context.Context) bool {
	o.checkMu.Lock()
	defer o.checkMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, o.conf.Timeout)
	defer cancel()

	start := o.conf.Now()
	err := o.probe(probeCtx)
	elapsed := o.conf.Now().Sub(start)

	if err != nil {
		o.failed.Inc(1)
		n := o.failures.Add(1)
		Logger.Debugf("probe failed (%d in a row): %v", n, err)
		if n >= int64(o.conf.FailureThreshold) && o.online.Swap(false) {
			Logger.Warningf("remote unreachable after %d failed probes", n)
		}
		return o.online.Load()
	}

	o.failures.Store(0)
	o.latency.Update(elapsed.Microseconds())
	if !o.online.Swap(true) {
		o.subs.fire()
	}
	return true
}

// Stats returns the median probe latency and the total number of failed probes.
func (o *ProbeOracle) Stats() (median time.Duration, failed int64) {
	return time.Duration(o.latency.Percentile(0.5)) * time.Microsecond, o.failed.Count()
}

// SetConditions sets the device conditions. Probes cannot observe them.
func (o *ProbeOracle) SetConditions(c Conditions) {
	o.condMu.Lock()
	o.conds = c
	o.condMu.Unlock()
}

func (o *ProbeOracle) IsOnline() bool {
	return o.online.Load()
}

func (o *ProbeOracle) Quality() Quality {
	if !o.IsOnline() {
		return QualityUnknown
	}
	if o.latency.Count() == 0 {
		return QualityUnknown
	}
	median := time.Duration(o.latency.Percentile(0.5)) * time.Microsecond
	switch {
	case median <= o.conf.GoodLatency:
		return QualityGood
	case median <= o.conf.ModerateLatency:
		return QualityModerate
	default:
		return QualityPoor
	}
}

func (o *ProbeOracle) OnReconnect(fn func()) (cancel func()) {
	return o.subs.add(fn)
}

func (o *ProbeOracle) Conditions() Conditions {
	o.condMu.RLock()
	defer o.condMu.RUnlock()
	return o.conds
}

// --------------------------------------------------------------------------
// Probes
// --------------------------------------------------------------------------

// DNSProbe returns a probe that resolves name at the given DNS server.
// A missing port defaults to 53. Any answer, including NXDOMAIN, counts as reachable.
func DNSProbe(server, name string) ProbeFunc {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	client := &dns.Client{Net: "udp"}

	return func(ctx context.Context) error {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(name), dns.TypeA)
		m.RecursionDesired = true

		r, _, err := client.ExchangeContext(ctx, m, server)
		if err != nil {
			return fmt.Errorf("dns probe %s: %w", server, err)
		}
		if r.Rcode != dns.RcodeSuccess && r.Rcode != dns.RcodeNameError {
			return fmt.Errorf("dns probe %s: %s", server, dns.RcodeToString[r.Rcode])
		}
		return nil
	}
}
