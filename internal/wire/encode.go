package wire

import (
	"encoding/binary"
	"net/netip"

	qerrors "github.com/joshuafuller/querierd/internal/errors"
)

// QueryParams describes an outbound membership query (spec.md §4.A, §4.E).
type QueryParams struct {
	Src, Dst netip.Addr
	Group    netip.Addr // zero value for a general query
	Version  Version

	// MaxRespSeconds is the response window in seconds; it is
	// converted to the deciseconds-unit Max Resp Code and, for v3,
	// float-coded.
	MaxRespSeconds float64

	// QRV and QueryIntervalSeconds are only used for v3; QueryIntervalSeconds
	// is float-coded into the QQIC field.
	QRV                 uint8
	QueryIntervalSeconds uint32

	RouterAlert bool
}

// EncodeQuery builds a complete IPv4+IGMP membership query packet. It
// implements the version-dependent truncation rules of spec.md §4.A: a v3
// query carries QRV/QQIC in a 12-byte IGMP body, a v2 query truncates to the
// 8-byte IGMPv1/v2 form, and a v1 query additionally forces Max Resp Code to
// zero.
func EncodeQuery(p QueryParams) ([]byte, error) {
	if !p.Src.Is4() || !p.Dst.Is4() {
		return nil, &qerrors.AllocError{Operation: "encode query", Err: errInvalidAddr}
	}

	maxRespCode := byte(0)
	if p.Version != V1 {
		deciseconds := uint32(p.MaxRespSeconds * 10)
		if p.Version == V3 {
			maxRespCode = EncodeFloatCode(deciseconds)
		} else {
			maxRespCode = clampByte(deciseconds)
		}
	}

	var igmp []byte
	switch p.Version {
	case V1, V2:
		igmp = encodeIGMPv2Body(TypeMembershipQuery, maxRespCode, p.Group)
	case V3:
		igmp = encodeIGMPv3Query(maxRespCode, p.Group, p.QRV, p.QueryIntervalSeconds)
	default:
		return nil, &qerrors.AllocError{Operation: "encode query", Err: errInvalidVersion}
	}

	return wrapIPv4(p.Src, p.Dst, igmp, p.RouterAlert), nil
}

func clampByte(v uint32) byte {
	if v > 255 {
		return 255
	}
	return byte(v)
}

// encodeIGMPv2Body builds the 8-byte IGMPv1/v2 message body: type, code,
// checksum, group.
func encodeIGMPv2Body(igmpType, code byte, group netip.Addr) []byte {
	buf := make([]byte, 8)
	buf[0] = igmpType
	buf[1] = code
	if group.IsValid() {
		g := group.As4()
		copy(buf[4:8], g[:])
	}
	binary.BigEndian.PutUint16(buf[2:4], checksum(buf))
	return buf
}

// encodeIGMPv3Query builds the 12-byte IGMPv3 query body (no source list):
// type, code, checksum, group, resv/S/QRV, QQIC, NumSrc=0.
func encodeIGMPv3Query(code byte, group netip.Addr, qrv uint8, queryIntervalSeconds uint32) []byte {
	buf := make([]byte, 12)
	buf[0] = TypeMembershipQuery
	buf[1] = code
	if group.IsValid() {
		g := group.As4()
		copy(buf[4:8], g[:])
	}
	buf[8] = qrv & 0x07
	buf[9] = EncodeFloatCode(queryIntervalSeconds)
	binary.BigEndian.PutUint16(buf[10:12], 0) // NumSrc

	binary.BigEndian.PutUint16(buf[2:4], checksum(buf))
	return buf
}

// wrapIPv4 prepends an IPv4 header (with Router Alert option when
// requested) to igmp and fixes up the IP checksum. TOS is fixed at 0xC0
// (Internet Control); TTL is 1 for link-local destinations, 255 otherwise
// (spec.md §4.A).
func wrapIPv4(src, dst netip.Addr, igmp []byte, routerAlert bool) []byte {
	hlen := 20
	if routerAlert {
		hlen = 20 + RouterAlertLen
	}

	buf := make([]byte, hlen+len(igmp))
	buf[0] = 0x40 | byte(hlen/4) // version 4, IHL in 32-bit words
	buf[1] = 0xC0                // TOS: Internet Control
	binary.BigEndian.PutUint16(buf[2:4], uint16(hlen+len(igmp)))
	// buf[4:8] identification/flags/fragment offset: left zero

	ttl := byte(255)
	if IsLinkLocalMulticast(dst) {
		ttl = 1
	}
	buf[8] = ttl
	buf[9] = ProtocolIGMP

	s := src.As4()
	d := dst.As4()
	copy(buf[12:16], s[:])
	copy(buf[16:20], d[:])

	if routerAlert {
		buf[20] = RouterAlertOption
		buf[21] = RouterAlertLen
		buf[22] = 0
		buf[23] = 0
	}

	copy(buf[hlen:], igmp)

	binary.BigEndian.PutUint16(buf[10:12], checksum(buf[:hlen]))
	return buf
}
