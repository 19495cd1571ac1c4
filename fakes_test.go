package uradvd

import (
	"fmt"
	"net"
	"net/netip"
)

// fakeInterfaceResolver is a scripted interfaceResolver double, letting
// tests simulate an interface coming up, changing its link-local address,
// or disappearing without touching the real network stack.
type fakeInterfaceResolver struct {
	ifindex   int
	mac       net.HardwareAddr
	linkLocal netip.Addr
	err       error
}

var _ interfaceResolver = (*fakeInterfaceResolver)(nil)

func (f *fakeInterfaceResolver) resolve(name string) (int, net.HardwareAddr, netip.Addr, error) {
	if f.err != nil {
		return 0, nil, netip.Addr{}, f.err
	}
	return f.ifindex, f.mac, f.linkLocal, nil
}

// fakeICMPEndpoint is a hand-rolled icmpEndpoint test double, mirroring the
// teacher's fakeSock (fake_socket.go): channels/queues stand in for the
// kernel, letting reactor tests drive specific RS/send sequences without a
// real raw socket.
type fakeICMPEndpoint struct {
	fdVal int

	joinFresh bool
	joinErr   error
	bindErr   error

	sent    []sentRA
	sendErr error

	rsQueue []queuedRS
	rsErr   error

	closed bool
}

type sentRA struct {
	payload []byte
	srcAddr netip.Addr
	ifindex int
}

type queuedRS struct {
	payload  []byte
	hopLimit int
	src      netip.Addr
}

var _ icmpEndpoint = (*fakeICMPEndpoint)(nil)

func (f *fakeICMPEndpoint) fd() int { return f.fdVal }

func (f *fakeICMPEndpoint) joinAllRoutersMulticast(ifindex int) (bool, error) {
	return f.joinFresh, f.joinErr
}

func (f *fakeICMPEndpoint) bindToDevice(name string) error {
	return f.bindErr
}

func (f *fakeICMPEndpoint) sendRA(payload []byte, srcAddr netip.Addr, ifindex int) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentRA{payload: payload, srcAddr: srcAddr, ifindex: ifindex})
	return nil
}

func (f *fakeICMPEndpoint) recvRS() ([]byte, int, netip.Addr, error) {
	if f.rsErr != nil {
		return nil, 0, netip.Addr{}, f.rsErr
	}
	if len(f.rsQueue) == 0 {
		return nil, 0, netip.Addr{}, fmt.Errorf("no RS queued")
	}
	rs := f.rsQueue[0]
	f.rsQueue = f.rsQueue[1:]
	return rs.payload, rs.hopLimit, rs.src, nil
}

func (f *fakeICMPEndpoint) close() error {
	f.closed = true
	return nil
}

// fakeKernelEventChannel is a hand-rolled kernelEventChannel test double,
// mirroring the teacher's fakeDeviceWatcher (fake_device.go), adapted to
// the pollable-fd shape kernelEventChannel needs.
type fakeKernelEventChannel struct {
	fdVal int

	relevantQueue []bool
	err           error

	closed bool
}

var _ kernelEventChannel = (*fakeKernelEventChannel)(nil)

func (f *fakeKernelEventChannel) fd() int { return f.fdVal }

func (f *fakeKernelEventChannel) readBuffer(ifindex int, ok bool) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if len(f.relevantQueue) == 0 {
		return false, nil
	}
	relevant := f.relevantQueue[0]
	f.relevantQueue = f.relevantQueue[1:]
	return relevant, nil
}

func (f *fakeKernelEventChannel) close() error {
	f.closed = true
	return nil
}

// fakePoller drives a scripted sequence of (icmpReady, netlinkReady)
// readiness pairs, one per poll() call, letting reactor tests exercise
// exact interleavings without real file descriptors.
type fakePoller struct {
	steps []pollStep
	i     int
}

type pollStep struct {
	icmpReady, netlinkReady bool
}

var _ reactorPoller = (*fakePoller)(nil)

func (p *fakePoller) poll(icmpFD, netlinkFD, timeoutMillis int) (bool, bool, error) {
	if p.i >= len(p.steps) {
		return false, false, fmt.Errorf("fakePoller: no more scripted steps")
	}
	s := p.steps[p.i]
	p.i++
	return s.icmpReady, s.netlinkReady, nil
}
