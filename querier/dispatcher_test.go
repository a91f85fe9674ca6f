package querier

import (
	"testing"
	"time"

	"github.com/joshuafuller/querierd/internal/wire"
)

func TestHandleLinkEventIfaceNewThenUpCreatesQuerier(t *testing.T) {
	e, tr := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)

	e.handleLinkEvent(now, LinkEvent{Kind: IfaceNew, IfIndex: 7, Name: "eth0"})
	e.handleLinkEvent(now, LinkEvent{Kind: AddrAdded, IfIndex: 7, Addr: mustAddr("10.0.0.5")})
	e.handleLinkEvent(now, LinkEvent{Kind: IfaceUp, IfIndex: 7})

	ifc, ok := e.table.Get(7)
	if !ok {
		t.Fatal("expected interface 7 to be present after IfaceNew")
	}
	if !ifc.Querier {
		t.Fatal("expected interface to become querier after its first address and link-up")
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected one general query sent, got %d", len(tr.sent))
	}
}

// A link event for an ifindex the dispatcher never saw an IfaceNew for must
// be a harmless no-op: the dispatcher only adds to the Interface Table on
// IfaceNew, so IfaceUp/AddrAdded/AddrRemoved/IfaceGone arriving first (e.g. a
// reordered or lost event) must not panic or create a table entry as a
// side effect of a lookup.
func TestHandleLinkEventUnknownIfindexIsNoop(t *testing.T) {
	e, tr := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)

	e.handleLinkEvent(now, LinkEvent{Kind: IfaceUp, IfIndex: 99})
	e.handleLinkEvent(now, LinkEvent{Kind: IfaceDown, IfIndex: 99})
	e.handleLinkEvent(now, LinkEvent{Kind: IfaceGone, IfIndex: 99})
	e.handleLinkEvent(now, LinkEvent{Kind: AddrAdded, IfIndex: 99, Addr: mustAddr("10.0.0.9")})
	e.handleLinkEvent(now, LinkEvent{Kind: AddrRemoved, IfIndex: 99, Addr: mustAddr("10.0.0.9")})

	if _, ok := e.table.Get(99); ok {
		t.Fatal("unknown ifindex must not be materialized into the table by a lookup")
	}
	if len(tr.sent) != 0 {
		t.Fatalf("expected no packets sent for an unknown interface, got %d", len(tr.sent))
	}
}

func TestHandleLinkEventIfaceGoneRetiresGroupsAndTimers(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 3, "eth1", mustAddr("10.0.0.1"))
	ifc.Querier = true

	e.Join(now, ifc, mustAddr("239.1.2.3"), mustAddr("10.0.0.50"), wire.V2)
	if len(ifc.Groups) != 1 {
		t.Fatalf("expected one learned group before teardown, got %d", len(ifc.Groups))
	}
	g := ifc.Groups[mustAddr("239.1.2.3")]

	e.handleLinkEvent(now, LinkEvent{Kind: IfaceGone, IfIndex: 3})

	if _, ok := e.table.Get(3); ok {
		t.Fatal("expected interface to be removed from the table after IfaceGone")
	}
	if len(ifc.Groups) != 0 {
		t.Fatalf("expected groups cleared after IfaceGone, got %d", len(ifc.Groups))
	}
	if e.wheel.Get(now, g.MembershipTimer) != 0 || e.wheel.Get(now, g.VersionUpgradeTimer) != 0 {
		t.Fatal("expected the group's timers cancelled after IfaceGone")
	}
}

func TestHandleLinkEventIfaceDownMutesQuerying(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 4, "eth2", mustAddr("10.0.0.2"))
	e.becomeQuerier(now, ifc)
	if !ifc.Querier {
		t.Fatal("setup: expected interface to be querier before going down")
	}

	e.handleLinkEvent(now, LinkEvent{Kind: IfaceDown, IfIndex: 4})

	if ifc.Querier {
		t.Fatal("expected Querier flag cleared on link down")
	}
	if ifc.QueryTimer != 0 {
		t.Fatal("expected periodic query timer cancelled on link down")
	}
}
