package uradvd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	allNodesMulticast   = netip.MustParseAddr("ff02::1")
	allRoutersMulticast = netip.MustParseAddr("ff02::2")
)

// icmpEndpoint is the raw ICMPv6 transport described by spec.md §4.3. It is
// an interface so the reactor can be exercised against a fake in tests, the
// same shape as the teacher's rAdvSocket/sock/fakeSock trio
// (socket.go/fake_socket.go).
type icmpEndpoint interface {
	fd() int
	joinAllRoutersMulticast(ifindex int) (fresh bool, err error)
	bindToDevice(name string) error
	sendRA(payload []byte, srcAddr netip.Addr, ifindex int) error
	recvRS() (payload []byte, hopLimit int, src netip.Addr, err error)
	close() error
}

// icmpSocket is the real, syscall-backed icmpEndpoint. Grounded on
// uradvd.c's init_icmp/add_pktinfo/handle_solicit/send_advert
// (original_source/uradvd.c lines 182–198, 398–480, 482–573).
type icmpSocket struct {
	sockFD int
}

var _ icmpEndpoint = (*icmpSocket)(nil)

// NewICMPSocket opens and configures the raw ICMPv6 socket: non-blocking,
// kernel-computed checksum at the standard ICMPv6 offset, multicast hop
// limit 255, multicast loopback enabled, receive-hoplimit ancillary data,
// and an ICMP6 filter that passes only Router Solicitation. Exported so
// cmd/uradvd can construct the real transport to hand to NewReactor.
func NewICMPSocket() (*icmpSocket, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_ICMPV6)
	if err != nil {
		return nil, fmt.Errorf("open ICMPv6 socket: %w", err)
	}

	s := &icmpSocket{sockFD: fd}

	// checksumOffset is the byte offset of the ICMPv6 checksum field
	// within the packet; the kernel fills it in for us.
	const checksumOffset = 2
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_RAW, unix.IPV6_CHECKSUM, checksumOffset); err != nil {
		s.close()
		return nil, fmt.Errorf("set checksum offset: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, 255); err != nil {
		s.close()
		return nil, fmt.Errorf("set multicast hop limit: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_LOOP, 1); err != nil {
		s.close()
		return nil, fmt.Errorf("enable multicast loopback: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVHOPLIMIT, 1); err != nil {
		s.close()
		return nil, fmt.Errorf("enable hop limit ancillary data: %w", err)
	}

	filter := icmp6FilterPassOnly(icmpTypeRouterSolicitation)
	if err := unix.SetsockoptICMPv6Filter(fd, unix.IPPROTO_ICMPV6, unix.ICMPV6_FILTER, filter); err != nil {
		s.close()
		return nil, fmt.Errorf("install ICMP6 filter: %w", err)
	}

	return s, nil
}

func icmp6FilterPassOnly(types ...uint8) *unix.ICMPv6Filter {
	var f unix.ICMPv6Filter
	for i := range f.Data {
		f.Data[i] = 0xffffffff
	}
	for _, t := range types {
		f.Data[t>>5] &^= 1 << (t & 31)
	}
	return &f
}

func (s *icmpSocket) fd() int { return s.sockFD }

// joinAllRoutersMulticast joins ff02::2 on ifindex. It reports fresh=true
// when the join actually happened and fresh=false when the kernel reports
// we were already a member — both are success. Grounded on uradvd.c's
// join_multicast (lines 230–253).
func (s *icmpSocket) joinAllRoutersMulticast(ifindex int) (bool, error) {
	mreq := &unix.IPv6Mreq{
		Multiaddr: allRoutersMulticast.As16(),
		Interface: uint32(ifindex),
	}
	err := unix.SetsockoptIPv6Mreq(s.sockFD, unix.IPPROTO_IPV6, unix.IPV6_ADD_MEMBERSHIP, mreq)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EADDRINUSE) {
		return false, nil
	}
	return false, fmt.Errorf("join all-routers multicast group: %w", err)
}

func (s *icmpSocket) bindToDevice(name string) error {
	if err := unix.SetsockoptString(s.sockFD, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, name); err != nil {
		return fmt.Errorf("bind to device %s: %w", name, err)
	}
	return nil
}

// sendRA sends payload to ff02::1, forcing the outbound source address and
// interface via an IPV6_PKTINFO ancillary message. Grounded on uradvd.c's
// add_pktinfo/send_advert (lines 398–480, 528–573).
func (s *icmpSocket) sendRA(payload []byte, srcAddr netip.Addr, ifindex int) error {
	dst := &unix.SockaddrInet6{
		Addr:   allNodesMulticast.As16(),
		ZoneId: uint32(ifindex),
	}

	pktinfo := unix.Inet6Pktinfo{
		Addr:    srcAddr.As16(),
		Ifindex: uint32(ifindex),
	}
	oob := buildCmsg(unix.IPPROTO_IPV6, unix.IPV6_PKTINFO, structToBytes(unsafe.Pointer(&pktinfo), int(unsafe.Sizeof(pktinfo))))

	return unix.Sendmsg(s.sockFD, payload, oob, dst, 0)
}

// recvRS reads one datagram with ancillary data and extracts the received
// hop limit, returning -1 if no hop-limit control message was present
// (spec.md §4.2 treats an absent hop limit as a validation failure).
func (s *icmpSocket) recvRS() ([]byte, int, netip.Addr, error) {
	buf := make([]byte, 1500)
	oob := make([]byte, 1024)

	n, oobn, _, from, err := unix.Recvmsg(s.sockFD, buf, oob, 0)
	if err != nil {
		return nil, -1, netip.Addr{}, err
	}

	hopLimit := -1
	if cmsgs, perr := unix.ParseSocketControlMessage(oob[:oobn]); perr == nil {
		for _, c := range cmsgs {
			if c.Header.Level == unix.IPPROTO_IPV6 && c.Header.Type == unix.IPV6_HOPLIMIT && len(c.Data) >= 4 {
				hopLimit = int(int32(binary.NativeEndian.Uint32(c.Data)))
			}
		}
	}

	var src netip.Addr
	if sa6, ok := from.(*unix.SockaddrInet6); ok {
		src = netip.AddrFrom16(sa6.Addr)
	}

	return buf[:n], hopLimit, src, nil
}

func (s *icmpSocket) close() error {
	return unix.Close(s.sockFD)
}

// Close releases the underlying file descriptor. Exported so cmd/uradvd can
// defer it on the value returned by NewICMPSocket.
func (s *icmpSocket) Close() error {
	return s.close()
}

// buildCmsg packs a single ancillary message with the given level/type and
// payload, matching what recvmsg(2)/sendmsg(2) expect: a cmsghdr followed
// by its payload, padded and aligned per CMSG_SPACE.
func buildCmsg(level, typ int, data []byte) []byte {
	space := unix.CmsgSpace(len(data))
	buf := make([]byte, space)

	h := (*unix.Cmsghdr)(unsafe.Pointer(&buf[0]))
	h.Level = int32(level)
	h.Type = int32(typ)
	h.SetLen(unix.CmsgLen(len(data)))

	copy(buf[unix.CmsgLen(0):], data)

	return buf
}

// structToBytes reinterprets a fixed-size struct as a byte slice, the way
// low-level socket ancillary-data payloads are conventionally built in Go.
func structToBytes(p unsafe.Pointer, size int) []byte {
	return unsafe.Slice((*byte)(p), size)
}
