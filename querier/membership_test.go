package querier

import (
	"net/netip"
	"testing"
	"time"

	"github.com/joshuafuller/querierd/internal/wire"
)

// Property 1: a joined group is removed after GMI without further reports.
func TestJoinExpiresAfterGMI(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	group := mustAddr("239.1.2.3")

	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V2)
	if _, ok := ifc.Groups[group]; !ok {
		t.Fatal("group not created on join")
	}

	gmi := e.cfg.GMI()
	e.wheel.Tick(now.Add(gmi - time.Second))
	if _, ok := ifc.Groups[group]; !ok {
		t.Fatal("group expired too early")
	}

	e.wheel.Tick(now.Add(gmi + time.Second))
	if _, ok := ifc.Groups[group]; ok {
		t.Fatal("group was not removed after GMI elapsed")
	}
}

func TestJoinRefreshesTimerAndDowngradesVersionOnly(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	group := mustAddr("239.1.2.3")

	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V3)
	g := ifc.Groups[group]
	if g.PV != wire.V3 {
		t.Fatalf("PV = %v, want V3", g.PV)
	}
	if g.VersionUpgradeTimer != 0 {
		t.Fatal("version_upgrade_timer must be absent when pv == 3")
	}

	// A v2 report must downgrade pv, never upgrade it back.
	e.Join(now, ifc, group, mustAddr("10.0.0.51"), wire.V2)
	if g.PV != wire.V2 {
		t.Fatalf("PV = %v, want V2 after downgrade", g.PV)
	}
	if g.Reporter != mustAddr("10.0.0.51") {
		t.Fatalf("reporter = %v, want 10.0.0.51", g.Reporter)
	}
	if g.VersionUpgradeTimer == 0 {
		t.Fatal("version_upgrade_timer must be armed once pv < 3")
	}

	// A subsequent v3 report must NOT upgrade pv back.
	e.Join(now, ifc, group, mustAddr("10.0.0.52"), wire.V3)
	if g.PV != wire.V2 {
		t.Fatalf("PV = %v, want V2 (v3 report must not upgrade)", g.PV)
	}
}

func TestVersionUpgradeStepsTowardV3(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	group := mustAddr("239.1.2.3")

	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V1)
	g := ifc.Groups[group]
	gmi := e.cfg.GMI()

	e.wheel.Tick(now.Add(gmi))
	if g.PV != wire.V2 {
		t.Fatalf("PV after one upgrade tick = %v, want V2", g.PV)
	}
	if g.VersionUpgradeTimer == 0 {
		t.Fatal("version_upgrade_timer should still be armed (pv < 3)")
	}

	e.wheel.Tick(now.Add(2 * gmi))
	if g.PV != wire.V3 {
		t.Fatalf("PV after second upgrade tick = %v, want V3", g.PV)
	}
	if g.VersionUpgradeTimer != 0 {
		t.Fatal("version_upgrade_timer must clear once pv == 3")
	}
}

// S3 Leave sequence.
func TestLeaveSequenceEmitsGroupSpecificQueries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LastMemberInterval = time.Second
	cfg.LastMemberQueryCount = 2
	e, tr := newTestEngine(cfg)
	now := time.Unix(0, 0)

	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	e.becomeQuerier(now, ifc)
	tr.sent = nil // discard the general query becomeQuerier just sent
	group := mustAddr("239.1.2.3")
	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V2)

	e.Leave(now, ifc, group, false)

	if len(tr.sent) != 1 {
		t.Fatalf("expected 1 group-specific query at t=0, got %d", len(tr.sent))
	}
	assertGroupSpecificQuery(t, tr.sent[0].pkt, group, cfg.LastMemberInterval)

	e.wheel.Tick(now.Add(time.Second))
	if len(tr.sent) != 2 {
		t.Fatalf("expected 2 group-specific queries by t=1, got %d", len(tr.sent))
	}
	assertGroupSpecificQuery(t, tr.sent[1].pkt, group, cfg.LastMemberInterval)

	if _, ok := ifc.Groups[group]; !ok {
		t.Fatal("group deleted too early")
	}
	e.wheel.Tick(now.Add(3 * time.Second))
	if _, ok := ifc.Groups[group]; ok {
		t.Fatal("group should be deleted at t=3 (last_member_interval*(count+1))")
	}
	if len(tr.sent) != 2 {
		t.Fatalf("no further queries expected after expiry, got %d", len(tr.sent))
	}
}

func assertGroupSpecificQuery(t *testing.T, pkt []byte, group netip.Addr, interval time.Duration) {
	t.Helper()
	if ipHeaderDst(pkt) != group {
		t.Errorf("dst = %v, want %v", ipHeaderDst(pkt), group)
	}
	igmp := pkt[24:]
	wantCode := byte(interval.Seconds() * 10)
	if igmp[1] != wantCode {
		t.Errorf("max_resp_code = %d, want %d", igmp[1], wantCode)
	}
	groupField := netip.AddrFrom4([4]byte{igmp[4], igmp[5], igmp[6], igmp[7]})
	if groupField != group {
		t.Errorf("group field = %v, want %v", groupField, group)
	}
}

func TestLeaveIgnoredWhenNotQuerier(t *testing.T) {
	e, tr := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	ifc.Querier = false
	group := mustAddr("239.1.2.3")
	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V2)
	tr.sent = nil

	e.Leave(now, ifc, group, false)

	if len(tr.sent) != 0 {
		t.Fatal("non-querier must not emit group-specific queries on leave")
	}
	if ifc.Groups[group].RetransmitTimer != 0 {
		t.Fatal("no retransmit sequence should start")
	}
}

func TestLeaveIgnoredForV1Group(t *testing.T) {
	e, tr := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	e.becomeQuerier(now, ifc)
	tr.sent = nil
	group := mustAddr("239.1.2.3")
	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V1)

	e.Leave(now, ifc, group, false)

	if len(tr.sent) != 0 {
		t.Fatal("leave on a pv==1 group must be ignored")
	}
}

func TestLeaveIgnoredForV2GroupViaV3Block(t *testing.T) {
	e, tr := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	e.becomeQuerier(now, ifc)
	tr.sent = nil
	group := mustAddr("239.1.2.3")
	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V2)

	e.Leave(now, ifc, group, true) // viaV3 BLOCK on a pv==2 group: ignored

	if len(tr.sent) != 0 {
		t.Fatal("leave via v3 BLOCK on a pv==2 group must be ignored")
	}
}

func TestGroupSpecificQueryShortensMembershipTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LastMemberQueryCount = 2
	e, _ := newTestEngine(cfg)
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	ifc.Querier = false // we are not querier; some other router queries
	group := mustAddr("239.1.2.3")
	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V2)

	e.GroupSpecificQueryReceived(now, ifc, group, 10) // max_resp_code=10 deciseconds=1s

	g := ifc.Groups[group]
	want := int64(2 * 1 * 1000) // count * (code/10) seconds, in ms
	if got := e.wheel.Get(now, g.MembershipTimer); got != want {
		t.Errorf("membership timer remaining = %dms, want %dms", got, want)
	}
}

// A group-specific query received while not querier must only ever shorten
// the membership timer, never extend it back out past whatever time it
// already had remaining.
func TestGroupSpecificQueryNeverExtendsMembershipTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LastMemberQueryCount = 2
	e, _ := newTestEngine(cfg)
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	ifc.Querier = false
	group := mustAddr("239.1.2.3")
	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V2)
	g := ifc.Groups[group]

	e.GroupSpecificQueryReceived(now, ifc, group, 10) // shortens to 2s
	shortened := e.wheel.Get(now, g.MembershipTimer)

	e.GroupSpecificQueryReceived(now, ifc, group, 200) // would compute to 40s: longer than what remains now
	if got := e.wheel.Get(now, g.MembershipTimer); got != shortened {
		t.Errorf("membership timer remaining = %dms, want unchanged %dms (must not extend)", got, shortened)
	}
}
