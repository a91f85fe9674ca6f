package querier

import (
	"net/netip"
	"time"
)

type sentPacket struct {
	pkt     []byte
	ifindex int
}

type fakeTransport struct {
	sent []sentPacket
}

func (f *fakeTransport) Send(pkt []byte, ifindex int) error {
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	f.sent = append(f.sent, sentPacket{pkt: cp, ifindex: ifindex})
	return nil
}

func newTestEngine(cfg Config) (*Engine, *fakeTransport) {
	tr := &fakeTransport{}
	e := NewEngine(cfg, tr, nil, nil)
	return e, tr
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func addIface(e *Engine, ifindex int, name string, addr netip.Addr) *Iface {
	ifc := e.table.Add(ifindex, name)
	e.table.AddAddress(ifindex, addr, 0)
	e.reconsiderCandidate(time.Unix(0, 0), ifc)
	return ifc
}

// ipHeaderTTL extracts the TTL byte (offset 8) from an encoded packet, for
// assertions that don't otherwise care about the rest of the frame.
func ipHeaderTTL(pkt []byte) byte { return pkt[8] }

// ipHeaderDst extracts the destination address (offset 16:20).
func ipHeaderDst(pkt []byte) netip.Addr {
	return netip.AddrFrom4([4]byte{pkt[16], pkt[17], pkt[18], pkt[19]})
}
