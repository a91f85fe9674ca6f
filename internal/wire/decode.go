package wire

import (
	"encoding/binary"
	"net/netip"

	qerrors "github.com/joshuafuller/querierd/internal/errors"
)

const (
	minIPv4HeaderLen = 20
	minIGMPLen       = 8  // type + code/reserved + checksum + group/reserved
	minGrecLen       = 8  // type + auxdatalen + nsrcs + group
	minV3QueryLen    = 12 // 8-byte header + resv/S/QRV + QQIC + nsrcs
)

// Decode validates and parses a received frame starting at the IPv4 header,
// returning the discriminated Message form described in spec.md §4.A.
//
// ifindex is the ingress interface index delivered as ancillary data by the
// transport (spec.md §6); Decode does not inspect the wire for it.
//
// Any malformed packet yields a *errors.DecodeError; the caller (the event
// dispatcher) logs it once and drops the packet — Decode never panics on
// attacker-controlled input.
func Decode(buf []byte, ifindex int) (*Message, error) {
	if len(buf) < minIPv4HeaderLen {
		return nil, &qerrors.DecodeError{Operation: "decode ipv4 header", Offset: 0, Message: "packet shorter than minimum IPv4 header"}
	}

	iphdrlen := int(buf[0]&0x0F) * 4
	if iphdrlen < minIPv4HeaderLen || len(buf) < iphdrlen {
		return nil, &qerrors.DecodeError{Operation: "decode ipv4 header", Offset: 0, Message: "invalid IHL"}
	}

	totalLen := int(binary.BigEndian.Uint16(buf[2:4]))
	ipdatalen := totalLen - iphdrlen
	if ipdatalen < 0 || iphdrlen+ipdatalen != len(buf) {
		return nil, &qerrors.DecodeError{Operation: "decode ipv4 header", Offset: 2, Message: "ip header length and total length disagree with received length"}
	}

	protocol := buf[9]
	src := addrFrom4(buf[12:16])
	dst := addrFrom4(buf[16:20])

	if protocol != ProtocolIGMP {
		return &Message{Kind: KindUnknown, Src: src, Dst: dst, IfIndex: ifindex}, nil
	}

	if ipdatalen < minIGMPLen {
		return nil, &qerrors.DecodeError{Operation: "decode igmp header", Offset: iphdrlen, Message: "igmp payload shorter than minimum length"}
	}

	payload := buf[iphdrlen : iphdrlen+ipdatalen]
	if !verifyChecksum(payload) {
		return nil, &qerrors.DecodeError{Operation: "decode igmp header", Offset: iphdrlen + 2, Message: "bad igmp checksum"}
	}

	igmpType := payload[0]

	if igmpType == TypeV3Report {
		ngrec := binary.BigEndian.Uint16(payload[6:8])
		records, err := parseGrecs(payload[8:], ngrec)
		msg := &Message{Kind: KindV3Report, Src: src, Dst: dst, IfIndex: ifindex, Records: records}
		return msg, err
	}

	code := payload[1]
	group := addrFrom4(payload[4:8])

	switch igmpType {
	case TypeMembershipQuery:
		return decodeQuery(payload, code, group, src, dst, ifindex)

	case TypeV1Report:
		return &Message{Kind: KindV1Report, Src: src, Dst: dst, IfIndex: ifindex, Group: group}, nil

	case TypeV2Report:
		return &Message{Kind: KindV2Report, Src: src, Dst: dst, IfIndex: ifindex, Group: group}, nil

	case TypeV2Leave:
		return &Message{Kind: KindV2Leave, Src: src, Dst: dst, IfIndex: ifindex, Group: group}, nil

	default:
		return &Message{Kind: KindUnknown, Src: src, Dst: dst, IfIndex: ifindex, Group: group}, nil
	}
}

// decodeQuery implements the version-detection rule of spec.md §4.A:
//
//	ipdatalen == 8 && code == 0  -> v1
//	ipdatalen == 8 && code != 0  -> v2
//	ipdatalen >= 12              -> v3
func decodeQuery(payload []byte, code byte, group, src, dst netip.Addr, ifindex int) (*Message, error) {
	ipdatalen := len(payload)

	switch {
	case ipdatalen == minIGMPLen:
		kind := KindQueryV2
		if code == 0 {
			kind = KindQueryV1
		}
		return &Message{Kind: kind, Src: src, Dst: dst, IfIndex: ifindex, Group: group, Query: &Query{MaxRespCode: code, Group: group}}, nil

	case ipdatalen >= minV3QueryLen:
		qrv := payload[8] & 0x07
		qqic := payload[9]
		nsrcs := int(binary.BigEndian.Uint16(payload[10:12]))
		need := minV3QueryLen + nsrcs*4
		if ipdatalen < need {
			return nil, &qerrors.DecodeError{Operation: "decode igmpv3 query", Offset: 10, Message: "source count overruns query"}
		}
		sources := make([]netip.Addr, nsrcs)
		for i := 0; i < nsrcs; i++ {
			off := minV3QueryLen + i*4
			sources[i] = addrFrom4(payload[off : off+4])
		}
		return &Message{
			Kind: KindQueryV3, Src: src, Dst: dst, IfIndex: ifindex, Group: group,
			Query: &Query{MaxRespCode: code, Group: group, QRV: qrv, QQIC: qqic, Sources: sources},
		}, nil

	default:
		return nil, &qerrors.DecodeError{Operation: "decode igmp query", Offset: 0, Message: "query length neither 8 nor >= 12 bytes"}
	}
}

// parseGrecs walks the group-record list of an IGMPv3 report (spec.md
// §4.F). It returns every record parsed before a bounds violation together
// with a non-nil error describing that violation — the caller still acts on
// the records that did parse, matching "a malformed record aborts further
// parsing for that report" rather than discarding the whole report.
func parseGrecs(buf []byte, ngrec uint16) ([]GroupRecord, error) {
	records := make([]GroupRecord, 0, ngrec)
	off := 0

	for i := 0; i < int(ngrec); i++ {
		if off+minGrecLen > len(buf) {
			return records, &qerrors.DecodeError{Operation: "parse grec", Offset: off, Message: "grec header overruns report"}
		}

		rtype := GrecType(buf[off])
		auxwords := buf[off+1]
		nsrcs := int(binary.BigEndian.Uint16(buf[off+2 : off+4]))
		group := addrFrom4(buf[off+4 : off+8])

		recLen := minGrecLen + nsrcs*4 + int(auxwords)*4
		if off+recLen > len(buf) {
			return records, &qerrors.DecodeError{Operation: "parse grec", Offset: off, Message: "grec sources/auxdata overrun report"}
		}

		sources := make([]netip.Addr, nsrcs)
		for j := 0; j < nsrcs; j++ {
			srcOff := off + minGrecLen + j*4
			sources[j] = addrFrom4(buf[srcOff : srcOff+4])
		}

		records = append(records, GroupRecord{Type: rtype, AuxWords: auxwords, Group: group, Sources: sources})
		off += recLen
	}

	return records, nil
}
