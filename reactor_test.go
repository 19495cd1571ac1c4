package uradvd

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func testReactor(t *testing.T, resolver interfaceResolver) (*Reactor, *fakeICMPEndpoint, *fakeKernelEventChannel, *fakeClock) {
	t.Helper()

	raw := RawConfig{
		Interface:         "eth0",
		PrefixSpecs:       []PrefixSpec{{Value: "2001:db8:1::/64", OnLink: true}},
		DefaultLifetime:   1800,
		ValidLifetime:     -1,
		PreferredLifetime: -1,
		MaxRtrAdvInterval: -1,
	}
	cfg, err := NewConfig(raw)
	require.NoError(t, err)

	icmp := &fakeICMPEndpoint{joinFresh: true}
	kev := &fakeKernelEventChannel{}
	clock := newFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	diag := NewDiagnostics(nil)
	metrics := NewMetrics(prometheus.NewRegistry())

	r := NewReactor(cfg, clock, icmp, kev, &fakePoller{}, diag, metrics)
	r.tracker = NewInterfaceTrackerWithResolver(cfg.Interface, icmp, resolver, diag)

	return r, icmp, kev, clock
}

func upResolver() *fakeInterfaceResolver {
	return &fakeInterfaceResolver{
		ifindex:   3,
		mac:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		linkLocal: netip.MustParseAddr("fe80::1"),
	}
}

// Scenario from spec.md §8: the first RA is sent within 500ms of the
// interface coming up.
func TestReactorFirstAdvertWithinDelayAfterInterfaceUp(t *testing.T) {
	r, icmp, _, clock := testReactor(t, upResolver())

	clock.setRand(300)
	immediate := r.tracker.Refresh()
	require.True(t, immediate)
	r.scheduler.ScheduleUnsolicited()

	require.LessOrEqual(t, clock.DiffMillis(r.scheduler.NextAdvert(), clock.Now()), MaxRADelayTimeMillis)

	clock.advance(300)
	r.sendAdvert()

	require.Len(t, icmp.sent, 1)
	require.Equal(t, netip.MustParseAddr("fe80::1"), icmp.sent[0].srcAddr)
	require.Equal(t, 3, icmp.sent[0].ifindex)
}

func TestReactorSolicitedAdvertAfterValidRS(t *testing.T) {
	r, icmp, _, clock := testReactor(t, upResolver())
	require.True(t, r.tracker.Refresh())

	rs := make([]byte, rsHeaderLen)
	rs[0] = icmpTypeRouterSolicitation
	icmp.rsQueue = append(icmp.rsQueue, queuedRS{payload: rs, hopLimit: 255, src: netip.MustParseAddr("fe80::99")})

	r.handleRS()
	require.True(t, r.pendingSolicited)

	clock.advance(1000)
	r.sendAdvert()

	require.Len(t, icmp.sent, 1)
	status := r.Status()
	require.Equal(t, uint64(1), status.TxSolicitedRA)
	require.Equal(t, uint64(0), status.TxUnsolicitedRA)
	require.Equal(t, uint64(1), status.RxRS)
	require.Equal(t, uint64(0), status.RxRSDropped)
}

func TestReactorHopLimit254Dropped(t *testing.T) {
	r, icmp, _, _ := testReactor(t, upResolver())
	require.True(t, r.tracker.Refresh())

	rs := make([]byte, rsHeaderLen)
	rs[0] = icmpTypeRouterSolicitation
	icmp.rsQueue = append(icmp.rsQueue, queuedRS{payload: rs, hopLimit: 254, src: netip.MustParseAddr("fe80::99")})

	r.handleRS()

	require.False(t, r.pendingSolicited)
	status := r.Status()
	require.Equal(t, uint64(1), status.RxRSDropped)
	require.Equal(t, uint64(0), status.RxRS)
}

func TestReactorRDNSSAndDefaultLifetimeInSentRA(t *testing.T) {
	raw := RawConfig{
		Interface:         "eth0",
		PrefixSpecs:       []PrefixSpec{{Value: "2001:db8:1::/64"}},
		DefaultLifetime:   1800,
		RDNSSSpecs:        []string{"2001:4860:4860::8888", "2001:4860:4860::8844"},
		ValidLifetime:     -1,
		PreferredLifetime: -1,
		MaxRtrAdvInterval: -1,
	}
	cfg, err := NewConfig(raw)
	require.NoError(t, err)

	icmp := &fakeICMPEndpoint{joinFresh: true}
	kev := &fakeKernelEventChannel{}
	clock := newFakeClock(time.Now())
	diag := NewDiagnostics(nil)

	r := NewReactor(cfg, clock, icmp, kev, &fakePoller{}, diag, nil)
	r.tracker = NewInterfaceTrackerWithResolver(cfg.Interface, icmp, upResolver(), diag)
	require.True(t, r.tracker.Refresh())

	r.sendAdvert()

	require.Len(t, icmp.sent, 1)
	payload := icmp.sent[0].payload
	require.Equal(t, uint16(1800), uint16(payload[6])<<8|uint16(payload[7]))
	require.Equal(t, uint8(optRDNSS), payload[len(payload)-40])
}

func TestReactorAdvertStopsWhenLinkLocalRemoved(t *testing.T) {
	r, icmp, _, _ := testReactor(t, upResolver())
	require.True(t, r.tracker.Refresh())

	// Interface loses its link-local address: the resolver now errors.
	r.tracker = NewInterfaceTrackerWithResolver(r.cfg.Interface, icmp, &fakeInterfaceResolver{err: errNoLinkLocalAddress}, r.diag)
	require.False(t, r.tracker.Refresh())
	require.False(t, r.tracker.State().OK)

	r.sendAdvert()
	require.Empty(t, icmp.sent)
}

func TestReactorSendFailureClearsOK(t *testing.T) {
	r, icmp, _, _ := testReactor(t, upResolver())
	require.True(t, r.tracker.Refresh())
	require.True(t, r.tracker.State().OK)

	icmp.sendErr = fmt.Errorf("sendmsg: ENOBUFS")

	r.sendAdvert()

	require.False(t, r.tracker.State().OK)
	require.Empty(t, icmp.sent)
}

func TestReactorRSCoalescingNeverPushesDeadlineLater(t *testing.T) {
	r, icmp, _, clock := testReactor(t, upResolver())
	require.True(t, r.tracker.Refresh())

	// Simulate an earlier send that pushed the next periodic advert well
	// into the future, so the two RS below have room to pull it in.
	clock.setRand(300000) // 300s, comfortably inside [min,max)
	r.scheduler.RecordSend()

	rs1 := make([]byte, rsHeaderLen)
	rs1[0] = icmpTypeRouterSolicitation
	icmp.rsQueue = append(icmp.rsQueue, queuedRS{payload: rs1, hopLimit: 255, src: netip.MustParseAddr("fe80::99")})
	clock.setRand(50)
	r.handleRS()
	first := r.scheduler.NextAdvert()

	rs2 := make([]byte, rsHeaderLen)
	rs2[0] = icmpTypeRouterSolicitation
	icmp.rsQueue = append(icmp.rsQueue, queuedRS{payload: rs2, hopLimit: 255, src: netip.MustParseAddr("fe80::99")})
	clock.setRand(499)
	r.handleRS()

	require.Equal(t, first, r.scheduler.NextAdvert())
}

// TestReactorRunProcessesKernelEventThenStops drives Run() through the real
// poll loop for a single kernel-event-triggered refresh, then cancels the
// context, matching how cmd/uradvd's signal.NotifyContext shuts the daemon
// down cleanly (Run returns nil on a cancelled context, spec.md's "runs
// until killed" model).
func TestReactorRunProcessesKernelEventThenStops(t *testing.T) {
	resolver := upResolver()
	icmp := &fakeICMPEndpoint{joinFresh: true}
	kev := &fakeKernelEventChannel{relevantQueue: []bool{true}}
	clock := newFakeClock(time.Now())

	raw := RawConfig{
		Interface:         "eth0",
		PrefixSpecs:       []PrefixSpec{{Value: "2001:db8:1::/64"}},
		DefaultLifetime:   -1,
		ValidLifetime:     -1,
		PreferredLifetime: -1,
		MaxRtrAdvInterval: -1,
	}
	cfg, err := NewConfig(raw)
	require.NoError(t, err)

	diag := NewDiagnostics(nil)

	ctx, cancel := context.WithCancel(context.Background())

	// cancelingPoller reports the single scripted netlink-event readiness,
	// then cancels ctx before Run loops back around, so the test never
	// needs a second scripted step.
	poller := &cancelingPoller{cancel: cancel, step: pollStep{netlinkReady: true}}

	r := NewReactor(cfg, clock, icmp, kev, poller, diag, nil)
	r.tracker = NewInterfaceTrackerWithResolver(cfg.Interface, icmp, resolver, diag)

	err = r.Run(ctx)
	require.NoError(t, err)
	require.True(t, r.tracker.State().OK)
	require.True(t, poller.called)
}

// cancelingPoller returns one scripted readiness pair and cancels its own
// context immediately after, so a single-iteration Run() test never races
// on a second poll() call.
type cancelingPoller struct {
	cancel context.CancelFunc
	step   pollStep
	called bool
}

func (p *cancelingPoller) poll(icmpFD, netlinkFD, timeoutMillis int) (bool, bool, error) {
	p.called = true
	p.cancel()
	return p.step.icmpReady, p.step.netlinkReady, nil
}
