// Package wire implements the IPv4/IGMP packet codec: decoding received
// frames into a discriminated Message, and encoding outbound queries.
//
// Wire format reference: RFC 2236 (IGMPv2), RFC 3376 (IGMPv3 §4, §4.1.1 for
// the floating-point time code), RFC 2113 (IP Router Alert option).
package wire

import "net/netip"

// Protocol numbers and well-known addresses.
const (
	ProtocolIGMP = 2

	RouterAlertOption = 148 // RFC 2113 IP Router Alert option type
	RouterAlertLen    = 4

	TypeMembershipQuery = 0x11
	TypeV1Report        = 0x12
	TypeV2Report        = 0x16
	TypeV2Leave         = 0x17
	TypeV3Report        = 0x22
)

// AllHosts, AllRouters and AllV3Reports are the well-known IGMP multicast
// destinations (spec.md §6).
var (
	AllHosts     = netip.MustParseAddr("224.0.0.1")
	AllRouters   = netip.MustParseAddr("224.0.0.2")
	AllV3Reports = netip.MustParseAddr("224.0.0.22")
)

// Version identifies the IGMP compatibility mode of a query or a learned
// group membership.
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	case V3:
		return "v3"
	default:
		return "unknown"
	}
}

// GrecType is the record type of a single IGMPv3 group record (RFC 3376 §4.2.12).
type GrecType uint8

const (
	ModeIsInclude   GrecType = 1
	ModeIsExclude   GrecType = 2
	ChangeToInclude GrecType = 3
	ChangeToExclude GrecType = 4
	AllowNewSources GrecType = 5
	BlockOldSources GrecType = 6
)

// Kind discriminates the decoded form of an IGMP packet (spec.md §4.A).
type Kind uint8

const (
	KindUnknown Kind = iota
	KindQueryV1
	KindQueryV2
	KindQueryV3
	KindV1Report
	KindV2Report
	KindV3Report
	KindV2Leave
)

// Query carries the fields specific to a membership query, decoded or about
// to be encoded. QRV, QQIC and Sources are only meaningful for IGMPv3
// queries.
type Query struct {
	MaxRespCode byte
	Group       netip.Addr
	QRV         uint8
	QQIC        byte
	Sources     []netip.Addr
}

// GroupRecord is a single group record (grec) from an IGMPv3 membership
// report (spec.md §4.F).
type GroupRecord struct {
	Type     GrecType
	AuxWords byte
	Group    netip.Addr
	Sources  []netip.Addr
}

// Message is the discriminated decode result of one IGMP packet.
type Message struct {
	Kind    Kind
	Src     netip.Addr
	Dst     netip.Addr
	IfIndex int // ingress ifindex, supplied by the caller, not parsed from the wire
	Group   netip.Addr
	Query   *Query        // set iff Kind is one of the Query* kinds
	Records []GroupRecord // set iff Kind == KindV3Report
}

func addrFrom4(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}

// IsLinkLocalMulticast reports whether addr is in 224.0.0.0/24, the range
// that local routers/switches never forward and that therefore always uses
// TTL 1 on the wire.
func IsLinkLocalMulticast(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	b := addr.As4()
	return b[0] == 224 && b[1] == 0 && b[2] == 0
}
