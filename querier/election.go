package querier

import (
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/joshuafuller/querierd/internal/wire"
)

// isLinkLocalUnicast reports whether addr is in 169.254.0.0/16, excluded
// from candidate selection.
func isLinkLocalUnicast(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	b := addr.As4()
	return b[0] == 169 && b[1] == 254
}

// addrLess reports whether a sorts before b in the host-order comparison
// used to pick the lowest address: the 32-bit value formed by the
// address's four octets, compared numerically.
func addrLess(a, b netip.Addr) bool {
	av, bv := a.As4(), b.As4()
	return binary.BigEndian.Uint32(av[:]) < binary.BigEndian.Uint32(bv[:])
}

// candidateAddress picks the numerically lowest non-link-local address
// configured on ifc, or the zero Addr if none qualifies.
func candidateAddress(ifc *Iface) netip.Addr {
	var best netip.Addr
	for addr := range ifc.Addresses {
		if isLinkLocalUnicast(addr) {
			continue
		}
		if !best.IsValid() || addrLess(addr, best) {
			best = addr
		}
	}
	return best
}

// reconsiderCandidate re-derives ifc's current_address and, accounting for
// self-preemption and the boot-time edge case, runs election again if the
// candidate changed. Called after any address add/remove.
func (e *Engine) reconsiderCandidate(now time.Time, ifc *Iface) {
	prev := ifc.CurrentAddress
	next := candidateAddress(ifc)

	if next == prev {
		return
	}
	ifc.PreviousAddress = prev
	ifc.CurrentAddress = next

	if !next.IsValid() {
		// No usable address: mute outbound queries and drop any claim to
		// the querier role cleanly.
		e.stopQuerying(ifc)
		return
	}

	switch {
	case ifc.RemoteQuerier == nil && !ifc.Querier:
		if !prev.IsValid() {
			// First election after boot: no reason to wait for a remote
			// querier that was never observed.
			e.becomeQuerier(now, ifc)
			return
		}
		// Not the very first election: assume a querier may already be
		// active and wait one OQPI before claiming the role.
		e.armStartupGrace(now, ifc)

	case ifc.RemoteQuerier != nil && addrLess(next, ifc.RemoteQuerier.Address):
		// Self-preemption: our new candidate outranks the known querier.
		e.becomeQuerier(now, ifc)
	}
}

func (e *Engine) armStartupGrace(now time.Time, ifc *Iface) {
	ifindex := ifc.Index
	ifc.startupTimer = e.wheel.Del(ifc.startupTimer)
	ifc.startupTimer = e.wheel.Add(now, e.cfg.OQPI(), 0, func(fireTime time.Time) {
		e.onStartupGraceExpire(fireTime, ifindex)
	})
}

func (e *Engine) onStartupGraceExpire(now time.Time, ifindex int) {
	ifc, ok := e.table.Get(ifindex)
	if !ok || ifc.RemoteQuerier != nil || ifc.Querier {
		return
	}
	e.becomeQuerier(now, ifc)
}

// handleQuery reconciles election state against a received membership
// query's source address.
func (e *Engine) handleQuery(now time.Time, ifc *Iface, src netip.Addr) {
	if src.Is4() && src.As4() == [4]byte{} {
		return // proxy query (S6): ignored for election
	}

	cur := ifc.CurrentAddress
	if ifc.RemoteQuerier != nil {
		cur = ifc.RemoteQuerier.Address
	}

	switch {
	case ifc.RemoteQuerier != nil && src == ifc.RemoteQuerier.Address:
		e.wheel.Set(now, ifc.RemoteQuerier.OQPITimer, e.cfg.OQPI())

	case !cur.IsValid() || addrLess(src, cur):
		ifc.Querier = false
		e.cancelQueryTimer(ifc)
		ifc.startupTimer = e.wheel.Del(ifc.startupTimer)
		if ifc.RemoteQuerier != nil {
			// A lower-addressed querier is preempting the one we already
			// track; cancel its OQPI timer so it can't fire later and
			// take over from the new, still-live remote querier.
			e.wheel.Del(ifc.RemoteQuerier.OQPITimer)
		}
		ifc.RemoteQuerier = &RemoteQuerier{Address: src, CTime: now}
		ifindex := ifc.Index
		ifc.RemoteQuerier.OQPITimer = e.wheel.Add(now, e.cfg.OQPI(), 0, func(fireTime time.Time) {
			e.onOQPIExpire(fireTime, ifindex)
		})
		e.metrics.IncElections()

	default:
		// src > cur: ignore.
	}
}

// onOQPIExpire takes over the querier role once a remote querier's
// other-querier-present interval has lapsed. The interface is re-resolved
// by ifindex rather than captured by pointer, since it may have been
// replaced or removed while the timer was pending.
func (e *Engine) onOQPIExpire(now time.Time, ifindex int) {
	ifc, ok := e.table.Get(ifindex)
	if !ok {
		return
	}
	e.becomeQuerier(now, ifc)
}

// becomeQuerier drops any remote-querier record, sets the Querier flag, and
// sends a general query immediately.
func (e *Engine) becomeQuerier(now time.Time, ifc *Iface) {
	ifc.RemoteQuerier = nil
	ifc.Querier = true
	ifc.startupTimer = e.wheel.Del(ifc.startupTimer)
	if ifc.Muted() {
		return
	}
	e.sendGeneralQuery(now, ifc)
	e.armQueryTimer(now, ifc)
}

// stopQuerying clears the Querier flag and cancels its periodic timer, used
// when an interface loses its last usable address.
func (e *Engine) stopQuerying(ifc *Iface) {
	ifc.Querier = false
	ifc.RemoteQuerier = nil
	ifc.startupTimer = e.wheel.Del(ifc.startupTimer)
	e.cancelQueryTimer(ifc)
}

func (e *Engine) cancelQueryTimer(ifc *Iface) {
	ifc.QueryTimer = e.wheel.Del(ifc.QueryTimer)
}

// sendGeneralQuery builds and sends the periodic general query, honoring
// the interface's version mode.
func (e *Engine) sendGeneralQuery(now time.Time, ifc *Iface) {
	version := ifc.VersionMode
	respSeconds := e.cfg.ResponseInterval.Seconds()

	pkt, err := wire.EncodeQuery(wire.QueryParams{
		Src: ifc.CurrentAddress, Dst: wire.AllHosts, Group: netip.Addr{},
		Version:              version,
		MaxRespSeconds:       respSeconds,
		QRV:                  uint8(e.cfg.Robustness),
		QueryIntervalSeconds: uint32(e.cfg.QueryInterval.Seconds()),
		RouterAlert:          e.cfg.RouterAlert,
	})
	if err != nil {
		e.logger.Error("encode general query", "iface", ifc.Name, "err", err)
		return
	}
	if err := e.transport.Send(pkt, ifc.Index); err != nil {
		e.logger.Warn("send general query", "iface", ifc.Name, "err", err)
		return
	}
	e.metrics.IncQueriesSent()
}

// armQueryTimer (re)schedules the periodic general-query timer for ifc.
func (e *Engine) armQueryTimer(now time.Time, ifc *Iface) {
	ifindex := ifc.Index
	ifc.QueryTimer = e.wheel.Del(ifc.QueryTimer)
	ifc.QueryTimer = e.wheel.Add(now, e.cfg.QueryInterval, e.cfg.QueryInterval, func(fireTime time.Time) {
		e.onGeneralQueryTick(fireTime, ifindex)
	})
}

func (e *Engine) onGeneralQueryTick(now time.Time, ifindex int) {
	ifc, ok := e.table.Get(ifindex)
	if !ok || !ifc.Querier || ifc.Muted() {
		return
	}
	e.sendGeneralQuery(now, ifc)
}
