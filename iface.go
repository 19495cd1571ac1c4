package uradvd

import (
	"fmt"
	"net"
	"net/netip"
)

// InterfaceState is the tracked view of the configured interface described
// by spec.md §3. The zero value is the "not ready" state.
type InterfaceState struct {
	OK        bool
	Ifindex   int
	MAC       net.HardwareAddr
	LinkLocal netip.Addr
}

func (s InterfaceState) equal(o InterfaceState) bool {
	if s.OK != o.OK || s.Ifindex != o.Ifindex || s.LinkLocal != o.LinkLocal {
		return false
	}
	return s.MAC.String() == o.MAC.String()
}

// interfaceResolver looks up the ifindex/MAC/link-local address of a named
// interface. It is an interface purely for testability, the same reasoning
// the teacher gives for injecting fake sockets and device watchers rather
// than talking to the real kernel: net.Interface's own Addrs() method always
// re-queries the OS by index, so a fake *net.Interface value wouldn't be
// enough on its own to make InterfaceTracker unit-testable.
type interfaceResolver interface {
	resolve(name string) (ifindex int, mac net.HardwareAddr, linkLocal netip.Addr, err error)
}

// kernelInterfaceResolver is the real, syscall-backed interfaceResolver.
// Grounded on uradvd.c's update_interface/getifaddrs loop
// (original_source/uradvd.c lines 256–311).
type kernelInterfaceResolver struct{}

var _ interfaceResolver = kernelInterfaceResolver{}

func (kernelInterfaceResolver) resolve(name string) (int, net.HardwareAddr, netip.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, nil, netip.Addr{}, err
	}
	if iface.Index == 0 {
		return 0, nil, netip.Addr{}, fmt.Errorf("interface %s has no index", name)
	}
	if len(iface.HardwareAddr) == 0 {
		return 0, nil, netip.Addr{}, fmt.Errorf("interface %s has no hardware address", name)
	}

	ll, err := linkLocalAddress(iface)
	if err != nil {
		return 0, nil, netip.Addr{}, err
	}

	return iface.Index, iface.HardwareAddr, ll, nil
}

// linkLocalAddress returns the first IPv6 link-local address bound to
// iface, matching uradvd.c's getifaddrs loop (lines 274–298).
func linkLocalAddress(iface *net.Interface) (netip.Addr, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, err
	}

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.Is6() && addr.IsLinkLocalUnicast() {
			return addr, nil
		}
	}

	return netip.Addr{}, errNoLinkLocalAddress
}

var errNoLinkLocalAddress = fmt.Errorf("no link-local address found")

// InterfaceTracker resolves and gates on the state of the configured
// interface: ifindex, MAC, link-local address, and all-routers multicast
// membership. Grounded on uradvd.c's struct iface/update_interface/
// join_multicast (original_source/uradvd.c lines 66–71, 230–311).
type InterfaceTracker struct {
	name     string
	sock     icmpEndpoint
	resolver interfaceResolver
	diag     *Diagnostics
	state    InterfaceState
}

// NewInterfaceTracker wires the real, syscall-backed interfaceResolver; see
// NewInterfaceTrackerWithResolver for tests.
func NewInterfaceTracker(name string, sock icmpEndpoint, diag *Diagnostics) *InterfaceTracker {
	return NewInterfaceTrackerWithResolver(name, sock, kernelInterfaceResolver{}, diag)
}

func NewInterfaceTrackerWithResolver(name string, sock icmpEndpoint, resolver interfaceResolver, diag *Diagnostics) *InterfaceTracker {
	return &InterfaceTracker{name: name, sock: sock, resolver: resolver, diag: diag}
}

func (t *InterfaceTracker) State() InterfaceState {
	return t.state
}

// clearOK marks the tracked interface as not ready without forgetting the
// rest of the last-known state, matching spec.md §4.3: "a send failure
// clears the ok flag; it does not exit." The next relevant kernel event
// triggers a Refresh, which re-populates it if the interface is actually
// still usable; no timer retries on its own.
func (t *InterfaceTracker) clearOK() {
	t.state.OK = false
}

// Refresh rebuilds the tracked state from scratch, per spec.md §9's
// resolution of the "mixes not-ready returns mid-refresh with
// partially-populated state" open question: a fresh InterfaceState is
// built on the stack and only ever swapped in as a whole, either fully
// populated or left at its zero value, never partially assigned into
// t.state.
//
// It returns true when the reactor should schedule an immediate,
// solicited-style advertisement: either because the resulting state
// differs from the previous one, or because the multicast join was fresh
// rather than an idempotent "already a member" (spec.md §4.5).
func (t *InterfaceTracker) Refresh() bool {
	previous := t.state
	t.state = InterfaceState{}

	ifindex, mac, ll, err := t.resolver.resolve(t.name)
	if err != nil {
		t.diag.Warnf("cannot resolve interface %s: %s", t.name, err)
		return false
	}

	fresh, err := t.sock.joinAllRoutersMulticast(ifindex)
	if err != nil {
		t.diag.Warnf("cannot join multicast group: %s", err)
		return false
	}
	if fresh {
		t.diag.Debugf("joined all-routers multicast group on %s", t.name)
	}

	if err := t.sock.bindToDevice(t.name); err != nil {
		t.diag.Warnf("cannot bind to device: %s", err)
		return false
	}

	t.state = InterfaceState{
		OK:        true,
		Ifindex:   ifindex,
		MAC:       mac,
		LinkLocal: ll,
	}

	return !previous.equal(t.state) || fresh
}
