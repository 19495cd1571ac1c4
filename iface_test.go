package uradvd

import (
	"fmt"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterfaceStateEqual(t *testing.T) {
	a := InterfaceState{
		OK:        true,
		Ifindex:   3,
		MAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		LinkLocal: netip.MustParseAddr("fe80::1"),
	}
	b := a
	require.True(t, a.equal(b))

	b.Ifindex = 4
	require.False(t, a.equal(b))

	b = a
	b.MAC = net.HardwareAddr{0, 1, 2, 3, 4, 6}
	require.False(t, a.equal(b))
}

func TestInterfaceTrackerRefreshResolverError(t *testing.T) {
	sock := &fakeICMPEndpoint{joinFresh: true}
	resolver := &fakeInterfaceResolver{err: fmt.Errorf("no such interface")}
	diag := NewDiagnostics(nil)

	tr := NewInterfaceTrackerWithResolver("eth0", sock, resolver, diag)

	immediate := tr.Refresh()
	require.False(t, immediate)
	require.False(t, tr.State().OK)
}

func TestInterfaceTrackerRefreshSuccess(t *testing.T) {
	sock := &fakeICMPEndpoint{joinFresh: true}
	resolver := &fakeInterfaceResolver{
		ifindex:   3,
		mac:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		linkLocal: netip.MustParseAddr("fe80::1"),
	}
	diag := NewDiagnostics(nil)

	tr := NewInterfaceTrackerWithResolver("eth0", sock, resolver, diag)

	immediate := tr.Refresh()
	require.True(t, immediate) // first-ever refresh differs from the zero state
	require.True(t, tr.State().OK)
	require.Equal(t, 3, tr.State().Ifindex)
	require.Equal(t, netip.MustParseAddr("fe80::1"), tr.State().LinkLocal)
}

func TestInterfaceTrackerRefreshIdempotentJoinNoImmediate(t *testing.T) {
	sock := &fakeICMPEndpoint{joinFresh: true}
	resolver := &fakeInterfaceResolver{
		ifindex:   3,
		mac:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		linkLocal: netip.MustParseAddr("fe80::1"),
	}
	diag := NewDiagnostics(nil)

	tr := NewInterfaceTrackerWithResolver("eth0", sock, resolver, diag)
	require.True(t, tr.Refresh())

	// A second refresh with the same state and an idempotent multicast
	// join ("already a member") should not request an immediate advert.
	sock.joinFresh = false
	require.False(t, tr.Refresh())
}

func TestInterfaceTrackerRefreshMulticastJoinError(t *testing.T) {
	sock := &fakeICMPEndpoint{joinErr: fmt.Errorf("EPERM")}
	resolver := &fakeInterfaceResolver{
		ifindex:   3,
		mac:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		linkLocal: netip.MustParseAddr("fe80::1"),
	}
	diag := NewDiagnostics(nil)

	tr := NewInterfaceTrackerWithResolver("eth0", sock, resolver, diag)

	require.False(t, tr.Refresh())
	require.False(t, tr.State().OK)
}

func TestInterfaceTrackerClearOK(t *testing.T) {
	sock := &fakeICMPEndpoint{}
	diag := NewDiagnostics(nil)

	tr := NewInterfaceTracker("eth0", sock, diag)
	tr.state = InterfaceState{
		OK:        true,
		Ifindex:   5,
		MAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		LinkLocal: netip.MustParseAddr("fe80::1"),
	}

	tr.clearOK()

	require.False(t, tr.State().OK)
	require.Equal(t, 5, tr.State().Ifindex)
}
