package querier

import (
	"net/netip"
	"time"

	"github.com/joshuafuller/querierd/internal/wire"
)

// isNonLinkLocalMulticast reports whether addr is a multicast address that
// the membership engine tracks: join handling is restricted to non-link-
// local groups (above 224.0.0.255).
func isNonLinkLocalMulticast(addr netip.Addr) bool {
	return addr.IsMulticast() && !wire.IsLinkLocalMulticast(addr)
}

// reportVersion maps a decoded report's Kind to the compatibility version
// it asserts.
func reportVersion(kind wire.Kind) wire.Version {
	switch kind {
	case wire.KindV1Report:
		return wire.V1
	case wire.KindV2Report:
		return wire.V2
	default:
		return wire.V3
	}
}

// Join records an accepted report for a single group. src is the reporting
// host; pv is the version asserted by this particular report (wire.V1/V2/V3).
func (e *Engine) Join(now time.Time, ifc *Iface, group, src netip.Addr, pv wire.Version) {
	if !isNonLinkLocalMulticast(group) {
		return
	}

	g, exists := ifc.Groups[group]
	if !exists {
		g = &Group{Address: group, Reporter: src, PV: pv, CTime: now}
		ifc.Groups[group] = g
		e.armMembershipTimer(now, ifc, g)
		if g.PV < wire.V3 {
			e.armVersionUpgradeTimer(now, ifc, g)
		}
		e.metrics.SetGroupCount(ifc.Index, len(ifc.Groups))
		return
	}

	if g.Static {
		return
	}

	g.Reporter = src
	e.armMembershipTimer(now, ifc, g)

	// Downgrade only, never upgrade on a v1/v2 report.
	if pv < g.PV {
		g.PV = pv
		e.armVersionUpgradeTimer(now, ifc, g)
	}
}

func (e *Engine) armMembershipTimer(now time.Time, ifc *Iface, g *Group) {
	ifindex, group := ifc.Index, g.Address
	g.MembershipTimer = e.wheel.Del(g.MembershipTimer)
	g.MembershipTimer = e.wheel.Add(now, e.cfg.GMI(), 0, func(fireTime time.Time) {
		e.onMembershipExpire(fireTime, ifindex, group)
	})
}

func (e *Engine) armVersionUpgradeTimer(now time.Time, ifc *Iface, g *Group) {
	ifindex, group := ifc.Index, g.Address
	g.VersionUpgradeTimer = e.wheel.Del(g.VersionUpgradeTimer)
	g.VersionUpgradeTimer = e.wheel.Add(now, e.cfg.GMI(), 0, func(fireTime time.Time) {
		e.onVersionUpgradeExpire(fireTime, ifindex, group)
	})
}

// onVersionUpgradeExpire steps pv toward V3 one notch per GMI, clearing the
// timer once pv reaches V3.
func (e *Engine) onVersionUpgradeExpire(now time.Time, ifindex int, group netip.Addr) {
	ifc, ok := e.table.Get(ifindex)
	if !ok {
		return
	}
	g, ok := ifc.Groups[group]
	if !ok {
		return
	}
	if g.PV < wire.V3 {
		g.PV++
	}
	if g.PV >= wire.V3 {
		g.VersionUpgradeTimer = 0
		return
	}
	e.armVersionUpgradeTimer(now, ifc, g)
}

// onMembershipExpire destroys an expired group entry, cancelling any other
// timers it still holds.
func (e *Engine) onMembershipExpire(now time.Time, ifindex int, group netip.Addr) {
	ifc, ok := e.table.Get(ifindex)
	if !ok {
		return
	}
	g, ok := ifc.Groups[group]
	if !ok {
		return
	}
	e.wheel.Del(g.RetransmitTimer)
	e.wheel.Del(g.VersionUpgradeTimer)
	delete(ifc.Groups, group)
	e.metrics.SetGroupCount(ifc.Index, len(ifc.Groups))
}

// Leave handles a v2 Leave or a leave derived from an IGMPv3 group record
// (BLOCK_OLD_SOURCES, or MODE_IS_INCLUDE/CHANGE_TO_INCLUDE with no sources)
// by starting the last-member-query sequence defined in RFC 3376 §7.3.2.
// viaV3 is true for the IGMPv3 case.
func (e *Engine) Leave(now time.Time, ifc *Iface, group netip.Addr, viaV3 bool) {
	if !ifc.Querier {
		return
	}
	if ifc.VersionMode == wire.V1 {
		return
	}
	g, ok := ifc.Groups[group]
	if !ok || g.Static {
		return
	}
	if g.RetransmitTimer != 0 {
		return // a group-specific query sequence is already in progress
	}
	if g.PV == wire.V1 {
		return
	}
	if g.PV == wire.V2 && viaV3 {
		return
	}

	e.wheel.Del(g.MembershipTimer)
	g.retransmitRemaining = e.cfg.LastMemberQueryCount

	e.sendGroupSpecificQuery(ifc, g)
	g.retransmitRemaining--

	ifindex := ifc.Index
	if g.retransmitRemaining > 0 {
		g.RetransmitTimer = e.wheel.Add(now, e.cfg.LastMemberInterval, e.cfg.LastMemberInterval, func(fireTime time.Time) {
			e.onRetransmitTick(fireTime, ifindex, group)
		})
	}

	total := time.Duration(e.cfg.LastMemberQueryCount+1) * e.cfg.LastMemberInterval
	g.MembershipTimer = e.wheel.Add(now, total, 0, func(fireTime time.Time) {
		e.onMembershipExpire(fireTime, ifindex, group)
	})
}

func (e *Engine) onRetransmitTick(now time.Time, ifindex int, group netip.Addr) {
	ifc, ok := e.table.Get(ifindex)
	if !ok {
		return
	}
	g, ok := ifc.Groups[group]
	if !ok {
		return
	}
	e.sendGroupSpecificQuery(ifc, g)
	g.retransmitRemaining--
	if g.retransmitRemaining <= 0 {
		g.RetransmitTimer = e.wheel.Del(g.RetransmitTimer)
	}
}

// sendGroupSpecificQuery emits one group-specific query: destination =
// group, group-field = group, max_resp_code = last_member_interval * 10.
func (e *Engine) sendGroupSpecificQuery(ifc *Iface, g *Group) {
	if ifc.Muted() {
		return
	}
	pkt, err := wire.EncodeQuery(wire.QueryParams{
		Src: ifc.CurrentAddress, Dst: g.Address, Group: g.Address,
		Version:        ifc.VersionMode,
		MaxRespSeconds: e.cfg.LastMemberInterval.Seconds(),
		RouterAlert:    e.cfg.RouterAlert,
	})
	if err != nil {
		e.logger.Error("encode group-specific query", "iface", ifc.Name, "group", g.Address, "err", err)
		return
	}
	if err := e.transport.Send(pkt, ifc.Index); err != nil {
		e.logger.Warn("send group-specific query", "iface", ifc.Name, "group", g.Address, "err", err)
		return
	}
	e.metrics.IncQueriesSent()
}

// GroupSpecificQueryReceived handles a group-specific query observed while
// not the querier: it shortens our membership timer to
// last_member_query_count * max_resp_code/10 seconds. "Shorten" means just
// that — a group-specific query that would leave more time on the clock
// than it already has must never extend the timer back out.
func (e *Engine) GroupSpecificQueryReceived(now time.Time, ifc *Iface, group netip.Addr, maxRespCode byte) {
	if ifc.Querier {
		return
	}
	g, ok := ifc.Groups[group]
	if !ok {
		return
	}
	d := time.Duration(e.cfg.LastMemberQueryCount) * time.Duration(maxRespCode) * (time.Second / 10)
	if d.Milliseconds() >= e.wheel.Get(now, g.MembershipTimer) {
		return
	}
	e.wheel.Set(now, g.MembershipTimer, d)
}
