package querier

import (
	"net/netip"
	"testing"
	"time"

	"github.com/joshuafuller/querierd/internal/wire"
)

// S4 v3 ALLOW: two sources each trigger a join; the resulting group has
// pv=3 and no version_upgrade_timer.
func TestDispatchAllowNewSourcesJoinsGroup(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	group := mustAddr("239.5.5.5")
	reportSrc := mustAddr("10.0.0.50")

	records := []wire.GroupRecord{
		{Type: wire.AllowNewSources, Group: group, Sources: []netip.Addr{mustAddr("192.0.2.10"), mustAddr("192.0.2.11")}},
	}
	e.DispatchV3Report(now, ifc, reportSrc, records)

	g, ok := ifc.Groups[group]
	if !ok {
		t.Fatal("group not created by ALLOW_NEW_SOURCES dispatch")
	}
	if g.PV != wire.V3 {
		t.Fatalf("PV = %v, want V3", g.PV)
	}
	if g.VersionUpgradeTimer != 0 {
		t.Fatal("version_upgrade_timer must be absent for pv==3")
	}
	if g.Reporter != reportSrc {
		t.Fatalf("reporter = %v, want %v", g.Reporter, reportSrc)
	}
}

func TestDispatchModeIsIncludeEmptySourcesIsLeave(t *testing.T) {
	cfg := DefaultConfig()
	e, tr := newTestEngine(cfg)
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	e.becomeQuerier(now, ifc)
	tr.sent = nil
	group := mustAddr("239.5.5.5")
	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V3)

	e.DispatchV3Report(now, ifc, mustAddr("10.0.0.50"), []wire.GroupRecord{
		{Type: wire.ModeIsInclude, Group: group, Sources: nil},
	})

	if len(tr.sent) != 1 {
		t.Fatalf("MODE_IS_INCLUDE with nsrcs==0 should trigger a leave (1 group-specific query), got %d sent", len(tr.sent))
	}
}

func TestDispatchModeIsExcludeWithSourcesLogsAndIgnores(t *testing.T) {
	e, tr := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	group := mustAddr("239.5.5.5")
	tr.sent = nil

	e.DispatchV3Report(now, ifc, mustAddr("10.0.0.50"), []wire.GroupRecord{
		{Type: wire.ModeIsExclude, Group: group, Sources: []netip.Addr{mustAddr("192.0.2.10")}},
	})

	if _, ok := ifc.Groups[group]; ok {
		t.Fatal("MODE_IS_EXCLUDE with sources (LW-IGMPv3) must not create a group entry")
	}
	if len(tr.sent) != 0 {
		t.Fatal("MODE_IS_EXCLUDE with sources must not send anything")
	}
}

func TestDispatchBlockOldSourcesIgnoredForV2Group(t *testing.T) {
	e, tr := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))
	e.becomeQuerier(now, ifc)
	group := mustAddr("239.5.5.5")
	e.Join(now, ifc, group, mustAddr("10.0.0.50"), wire.V2) // pv=2, so BLOCK must be ignored
	tr.sent = nil

	e.DispatchV3Report(now, ifc, mustAddr("10.0.0.50"), []wire.GroupRecord{
		{Type: wire.BlockOldSources, Group: group, Sources: []netip.Addr{mustAddr("192.0.2.10")}},
	})

	if len(tr.sent) != 0 {
		t.Fatal("BLOCK_OLD_SOURCES on a pv==2 group must be ignored (viaV3=true)")
	}
}

// S5 Bounds rejection is exercised at the wire layer (codec_test.go); this
// confirms the engine never fabricates a group from a bounds-rejected
// report (zero records reach DispatchV3Report).
func TestDispatchEmptyRecordsFromBoundsRejectionCreatesNothing(t *testing.T) {
	e, _ := newTestEngine(DefaultConfig())
	now := time.Unix(0, 0)
	ifc := addIface(e, 2, "eth0", mustAddr("10.0.0.5"))

	e.DispatchV3Report(now, ifc, mustAddr("10.0.0.50"), nil)

	if len(ifc.Groups) != 0 {
		t.Fatal("dispatching zero records must not create any group")
	}
}
