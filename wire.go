package uradvd

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv6"
)

// ICMPv6 option types used on the wire (spec.md §4.2, RFC 4861/8106).
const (
	optSourceLinkLayerAddress = 1
	optPrefixInformation      = 3
	optRDNSS                  = 25
)

const (
	icmpTypeRouterSolicitation  = uint8(ipv6.ICMPTypeRouterSolicitation)
	icmpTypeRouterAdvertisement = uint8(ipv6.ICMPTypeRouterAdvertisement)

	// raHopLimit is uradvd.c's AdvCurHopLimit.
	raHopLimit = 64

	// raHeaderLen is the length of the RA header after the 4-byte ICMPv6
	// header: cur hop limit + flags + router lifetime (4 bytes), Reachable
	// Time (4 bytes), Retrans Timer (4 bytes) — RFC 4861's
	// struct nd_router_advert, spec.md §4.2 item 1.
	raHeaderLen = 12

	// rsHeaderLen is the fixed length of a Router Solicitation: 4-byte
	// ICMPv6 header + 4 reserved bytes.
	rsHeaderLen = 8

	// rdnssLifetimeSeconds is uradvd.c's AdvRDNSSLifetime.
	rdnssLifetimeSeconds = 1200

	pioFlagAutonomous = 0x40 // ND_OPT_PI_FLAG_AUTO
	pioFlagOnLink     = 0x80 // ND_OPT_PI_FLAG_ONLINK
)

// EncodeRA builds the wire bytes of a Router Advertisement for cfg, sourced
// from the interface's mac. It concatenates the pieces spec.md §4.2
// describes: RA header, Source Link-Layer Address option, one Prefix
// Information option per configured prefix, and (if configured) one RDNSS
// option, grounded byte-for-byte on uradvd.c's send_advert (lines
// 482–573). The ICMPv6 checksum field is left zero: icmpEndpoint sets the
// kernel checksum-offset socket option so the kernel fills it in.
func EncodeRA(cfg *Config, mac net.HardwareAddr) []byte {
	buf := make([]byte, 4, 128)
	buf[0] = icmpTypeRouterAdvertisement
	buf[1] = 0 // code
	// buf[2:4] checksum, left zero for the kernel to fill in

	ra := make([]byte, raHeaderLen)
	ra[0] = raHopLimit
	ra[1] = 0 // M/O flags, always zero (spec.md §4.2 item 1)
	binary.BigEndian.PutUint16(ra[2:4], cfg.DefaultLifetime)
	// ra[4:8] Reachable Time, ra[8:12] Retrans Timer, both left zero
	buf = append(buf, ra...)

	buf = append(buf, encodeLinkLayerAddress(mac)...)

	for _, p := range cfg.Prefixes {
		buf = append(buf, encodePrefixInformation(p, cfg.ValidLifetime, cfg.PreferredLifetime)...)
	}

	if len(cfg.RDNSS) > 0 {
		buf = append(buf, encodeRDNSS(cfg.RDNSS)...)
	}

	return buf
}

func encodeLinkLayerAddress(mac net.HardwareAddr) []byte {
	opt := make([]byte, 8)
	opt[0] = optSourceLinkLayerAddress
	opt[1] = 1 // length in units of 8 bytes
	copy(opt[2:8], mac)
	return opt
}

func encodePrefixInformation(p Prefix, validLifetime, preferredLifetime uint32) []byte {
	opt := make([]byte, 32)
	opt[0] = optPrefixInformation
	opt[1] = 4  // length in units of 8 bytes
	opt[2] = 64 // prefix length

	flags := uint8(pioFlagAutonomous)
	if p.OnLink {
		flags |= pioFlagOnLink
	}
	opt[3] = flags

	binary.BigEndian.PutUint32(opt[4:8], validLifetime)
	binary.BigEndian.PutUint32(opt[8:12], preferredLifetime)
	// opt[12:16] reserved, left zero

	addr16 := p.Addr.As16()
	copy(opt[16:32], addr16[:])

	return opt
}

func encodeRDNSS(servers []netip.Addr) []byte {
	n := len(servers)
	opt := make([]byte, 8+16*n)
	opt[0] = optRDNSS
	opt[1] = uint8(1 + 2*n) // length in units of 8 bytes
	// opt[2:4] reserved, left zero
	binary.BigEndian.PutUint32(opt[4:8], rdnssLifetimeSeconds)

	for i, s := range servers {
		a16 := s.As16()
		copy(opt[8+16*i:8+16*(i+1)], a16[:])
	}

	return opt
}

// RouterAdvertisement is a decoded Router Advertisement, used by DecodeRA to
// support the round-trip property of spec.md §8 ("encoding an RA and
// decoding the resulting byte string yields the same field values"). Nothing
// in the reactor consumes this type: the daemon never receives RAs, it only
// sends them.
type RouterAdvertisement struct {
	DefaultLifetime uint16
	MAC             net.HardwareAddr
	Prefixes        []DecodedPrefix
	RDNSS           []netip.Addr
}

// DecodedPrefix is one decoded Prefix Information option.
type DecodedPrefix struct {
	Addr              netip.Addr
	OnLink            bool
	Autonomous        bool
	ValidLifetime     uint32
	PreferredLifetime uint32
}

// DecodeRA parses the wire bytes EncodeRA produces: the fixed RA header
// followed by Source Link-Layer Address, Prefix Information, and RDNSS
// options in any order, mirroring DecodeRS's option-walking loop.
func DecodeRA(buf []byte) (*RouterAdvertisement, error) {
	if len(buf) < 4+raHeaderLen {
		return nil, fmt.Errorf("short RA: %d bytes", len(buf))
	}
	if buf[0] != icmpTypeRouterAdvertisement || buf[1] != 0 {
		return nil, fmt.Errorf("not a router advertisement (type=%d code=%d)", buf[0], buf[1])
	}

	ra := &RouterAdvertisement{
		DefaultLifetime: binary.BigEndian.Uint16(buf[6:8]),
	}

	opts := buf[4+raHeaderLen:]
	for len(opts) > 0 {
		if len(opts) < 8 {
			return nil, fmt.Errorf("truncated option header")
		}
		optType := opts[0]
		optLen8 := int(opts[1])
		if optLen8 == 0 {
			return nil, fmt.Errorf("zero-length option")
		}
		optLen := optLen8 * 8
		if optLen > len(opts) {
			return nil, fmt.Errorf("option length %d overruns remaining %d bytes", optLen, len(opts))
		}
		opt := opts[:optLen]

		switch optType {
		case optSourceLinkLayerAddress:
			ra.MAC = net.HardwareAddr(append([]byte(nil), opt[2:8]...))
		case optPrefixInformation:
			if len(opt) < 32 {
				return nil, fmt.Errorf("truncated prefix information option")
			}
			addr, ok := netip.AddrFromSlice(opt[16:32])
			if !ok {
				return nil, fmt.Errorf("invalid prefix information address")
			}
			ra.Prefixes = append(ra.Prefixes, DecodedPrefix{
				Addr:              addr,
				OnLink:            opt[3]&pioFlagOnLink != 0,
				Autonomous:        opt[3]&pioFlagAutonomous != 0,
				ValidLifetime:     binary.BigEndian.Uint32(opt[4:8]),
				PreferredLifetime: binary.BigEndian.Uint32(opt[8:12]),
			})
		case optRDNSS:
			if len(opt) < 8 || (len(opt)-8)%16 != 0 {
				return nil, fmt.Errorf("truncated RDNSS option")
			}
			for i := 8; i < len(opt); i += 16 {
				addr, ok := netip.AddrFromSlice(opt[i : i+16])
				if !ok {
					return nil, fmt.Errorf("invalid RDNSS address")
				}
				ra.RDNSS = append(ra.RDNSS, addr)
			}
		}

		opts = opts[optLen:]
	}

	return ra, nil
}

// RouterSolicitation is a validated, decoded Router Solicitation.
type RouterSolicitation struct {
	HasSourceLinkLayerAddress bool
}

// DecodeRS validates and decodes a received datagram as a Router
// Solicitation. hopLimit is the value read from ancillary control data (or
// -1 if none was present); srcUnspecified reports whether the IPv6 source
// address of the datagram was the unspecified address (::).
//
// It implements the five checks of spec.md §4.2's "Router Solicitation
// validation", grounded on uradvd.c's handle_solicit (lines 416–480):
// hop limit must be exactly 255, type/code must be 133/0, the buffer must
// be at least the RS header, every trailing option must parse cleanly and
// exactly consume the remainder, and a Source Link-Layer Address option
// from the unspecified address is rejected.
func DecodeRS(buf []byte, hopLimit int, srcUnspecified bool) (*RouterSolicitation, error) {
	if hopLimit != 255 {
		return nil, fmt.Errorf("hop limit %d != 255", hopLimit)
	}
	if len(buf) < rsHeaderLen {
		return nil, fmt.Errorf("short RS: %d bytes", len(buf))
	}
	if buf[0] != icmpTypeRouterSolicitation || buf[1] != 0 {
		return nil, fmt.Errorf("not a router solicitation (type=%d code=%d)", buf[0], buf[1])
	}

	rs := &RouterSolicitation{}

	opts := buf[rsHeaderLen:]
	for len(opts) > 0 {
		if len(opts) < 8 {
			return nil, fmt.Errorf("truncated option header")
		}
		optType := opts[0]
		optLen8 := int(opts[1])
		if optLen8 == 0 {
			return nil, fmt.Errorf("zero-length option")
		}
		optLen := optLen8 * 8
		if optLen > len(opts) {
			return nil, fmt.Errorf("option length %d overruns remaining %d bytes", optLen, len(opts))
		}

		if optType == optSourceLinkLayerAddress {
			rs.HasSourceLinkLayerAddress = true
			if srcUnspecified {
				return nil, fmt.Errorf("source link-layer address option from unspecified source")
			}
		}

		opts = opts[optLen:]
	}

	return rs, nil
}
