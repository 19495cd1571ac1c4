package uradvd

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ptrTo reinterprets the start of a byte slice as a pointer to a
// fixed-layout struct, the conventional way to read netlink attribute
// payloads (ifinfomsg/ifaddrmsg) without an intermediate copy.
func ptrTo(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// kernelEventChannel is the interface/address-change notification channel
// of spec.md §4.4. It is an interface so the reactor can be tested against
// a fake, mirroring the shape of the teacher's deviceWatcher/
// netlinkDeviceWatcher/fakeDeviceWatcher trio (device.go/fake_device.go),
// adapted from a goroutine+channel push model to a pollable-fd pull model
// because spec.md §4.7/§5 require a single poll(2) call over both sockets
// with no background goroutines.
type kernelEventChannel interface {
	fd() int
	// readBuffer reads one buffer's worth of netlink messages and reports
	// whether any of them was "relevant" to ifindex/ok as defined in
	// spec.md §4.4, stopping at the first relevant one. relevant=true means
	// the interface tracker should refresh.
	readBuffer(ifindex int, ok bool) (relevant bool, err error)
	close() error
}

// netlinkSocket is the real, syscall-backed kernelEventChannel: a raw
// AF_NETLINK socket subscribed to RTMGRP_LINK and RTMGRP_IPV6_IFADDR.
// Grounded on uradvd.c's init_rtnl/handle_rtnl/handle_rtnl_link/
// handle_rtnl_addr/handle_rtnl_msg (original_source/uradvd.c lines
// 200–211, 314–396).
type netlinkSocket struct {
	sockFD int
}

var _ kernelEventChannel = (*netlinkSocket)(nil)

// NewNetlinkSocket opens and binds the real kernel event channel. Exported
// so cmd/uradvd can construct it to hand to NewReactor.
func NewNetlinkSocket() (*netlinkSocket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("open netlink socket: %w", err)
	}

	sa := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_LINK | unix.RTMGRP_IPV6_IFADDR,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind netlink socket: %w", err)
	}

	return &netlinkSocket{sockFD: fd}, nil
}

func (n *netlinkSocket) fd() int { return n.sockFD }

func (n *netlinkSocket) close() error {
	return unix.Close(n.sockFD)
}

// Close releases the underlying file descriptor. Exported so cmd/uradvd can
// defer it on the value returned by NewNetlinkSocket.
func (n *netlinkSocket) Close() error {
	return n.close()
}

// errNetlinkError is returned when the kernel reports NLMSG_ERROR, which
// spec.md §4.4/§7 classifies as fatal.
var errNetlinkError = fmt.Errorf("netlink error message received")

func (n *netlinkSocket) readBuffer(ifindex int, ok bool) (bool, error) {
	buf := make([]byte, 4096)

	nn, _, err := unix.Recvfrom(n.sockFD, buf, 0)
	if err != nil {
		return false, fmt.Errorf("recv from netlink socket: %w", err)
	}

	msgs, err := syscall.ParseNetlinkMessage(buf[:nn])
	if err != nil {
		return false, fmt.Errorf("parse netlink message: %w", err)
	}

	for _, m := range msgs {
		switch m.Header.Type {
		case unix.NLMSG_DONE:
			return false, nil
		case unix.NLMSG_ERROR:
			return false, errNetlinkError
		default:
			if netlinkMessageRelevant(m, ifindex, ok) {
				return true, nil
			}
		}
	}

	return false, nil
}

// netlinkMessageRelevant classifies one decoded netlink message per
// spec.md §4.4's bullet list, grounded on uradvd.c's handle_rtnl_link/
// handle_rtnl_addr (lines 314–353).
func netlinkMessageRelevant(m syscall.NetlinkMessage, ifindex int, ok bool) bool {
	switch m.Header.Type {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK, unix.RTM_SETLINK:
		return linkMessageRelevant(m, ifindex, ok)
	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		return addrMessageRelevant(m, ifindex, ok)
	default:
		return false
	}
}

func linkMessageRelevant(m syscall.NetlinkMessage, ifindex int, ok bool) bool {
	if len(m.Data) < unix.SizeofIfInfomsg {
		return false
	}
	info := (*unix.IfInfomsg)(ptrTo(m.Data))

	switch m.Header.Type {
	case unix.RTM_NEWLINK:
		return !ok
	case unix.RTM_SETLINK:
		if int(info.Index) == ifindex {
			return true
		}
		return !ok
	case unix.RTM_DELLINK:
		return ok && int(info.Index) == ifindex
	}
	return false
}

func addrMessageRelevant(m syscall.NetlinkMessage, ifindex int, ok bool) bool {
	if len(m.Data) < unix.SizeofIfAddrmsg {
		return false
	}
	info := (*unix.IfAddrmsg)(ptrTo(m.Data))

	switch m.Header.Type {
	case unix.RTM_NEWADDR:
		return !ok && int(info.Index) == ifindex
	case unix.RTM_DELADDR:
		return ok && int(info.Index) == ifindex
	}
	return false
}
