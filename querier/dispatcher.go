package querier

import (
	"context"
	"net/netip"
	"os"
	"syscall"
	"time"

	"github.com/joshuafuller/querierd/internal/wire"
)

// Run is the event dispatcher: a single-threaded loop that unifies the
// raw-socket reader, the OS link/address event source, the timer service,
// process signals and Query requests from other goroutines. Every Engine
// method it calls runs on this goroutine; no other goroutine may touch the
// Table or its Ifaces and Groups directly.
//
// Run returns nil on an orderly SIGINT/SIGTERM shutdown, when ctx is
// canceled, or when one of the input channels is closed.
func (e *Engine) Run(ctx context.Context, packets <-chan RawPacket, events <-chan LinkEvent, sig <-chan os.Signal) error {
	for {
		var timerC <-chan time.Time
		var t *time.Timer
		if deadline, ok := e.wheel.NextDeadline(); ok {
			d := time.Until(deadline)
			if d < 0 {
				d = 0
			}
			t = time.NewTimer(d)
			timerC = t.C
		}

		select {
		case <-ctx.Done():
			stopTimer(t)
			return nil

		case pkt, ok := <-packets:
			stopTimer(t)
			if !ok {
				return nil
			}
			e.handlePacket(time.Now(), pkt)

		case ev, ok := <-events:
			stopTimer(t)
			if !ok {
				return nil
			}
			e.handleLinkEvent(time.Now(), ev)

		case s, ok := <-sig:
			stopTimer(t)
			if !ok {
				return nil
			}
			if s == syscall.SIGHUP {
				e.logger.Info("received SIGHUP, reloading is a no-op in this build")
				continue
			}
			e.logger.Info("received shutdown signal", "signal", s)
			e.teardown()
			return nil

		case q := <-e.queries:
			stopTimer(t)
			q.fn()
			close(q.done)

		case <-timerC:
			e.wheel.Tick(time.Now())
		}
	}
}

func stopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// handlePacket decodes an incoming frame and dispatches it on its
// discriminated Kind. A decode error is logged and counted and never
// escapes to the caller; the packet is dropped, except that an IGMPv3
// report still has the group records parsed before the malformed one
// dispatched.
func (e *Engine) handlePacket(now time.Time, pkt RawPacket) {
	msg, err := wire.Decode(pkt.Data, pkt.IfIndex)
	if err != nil {
		e.logger.Info("decode error", "ifindex", pkt.IfIndex, "err", err)
		e.metrics.IncDecodeErrors()
		if msg == nil {
			return
		}
	}

	ifc, ok := e.table.Get(pkt.IfIndex)
	if !ok {
		return
	}

	switch msg.Kind {
	case wire.KindQueryV1, wire.KindQueryV2, wire.KindQueryV3:
		e.handleQuery(now, ifc, msg.Src)
		if msg.Query != nil && msg.Query.Group.IsValid() && msg.Query.Group.As4() != [4]byte{} {
			e.GroupSpecificQueryReceived(now, ifc, msg.Query.Group, msg.Query.MaxRespCode)
		}

	case wire.KindV1Report:
		e.Join(now, ifc, msg.Group, msg.Src, wire.V1)

	case wire.KindV2Report:
		e.Join(now, ifc, msg.Group, msg.Src, wire.V2)

	case wire.KindV3Report:
		e.DispatchV3Report(now, ifc, msg.Src, msg.Records)

	case wire.KindV2Leave:
		e.Leave(now, ifc, msg.Group, false)

	case wire.KindUnknown:
		// not an IGMP frame we care about; ignore
	}
}

// handleLinkEvent applies an OS-sourced link/address change to the
// Interface Table and re-runs election where the change could affect it.
func (e *Engine) handleLinkEvent(now time.Time, ev LinkEvent) {
	switch ev.Kind {
	case IfaceNew:
		e.table.Add(ev.IfIndex, ev.Name)

	case IfaceUp:
		ifc, ok := e.table.Get(ev.IfIndex)
		if !ok {
			return
		}
		ifc.Flags &^= FlagDown
		e.reconsiderCandidate(now, ifc)

	case IfaceDown:
		ifc, ok := e.table.Get(ev.IfIndex)
		if !ok {
			return
		}
		ifc.Flags |= FlagDown
		e.stopQuerying(ifc)

	case IfaceGone:
		ifc, ok := e.table.Get(ev.IfIndex)
		if !ok {
			return
		}
		e.retireIface(ifc)
		e.table.Remove(ifc.Index)

	case AddrAdded:
		ifc, err := e.table.AddAddress(ev.IfIndex, ev.Addr, 0)
		if err != nil {
			e.logger.Warn("add_address", "err", err)
			return
		}
		e.reconsiderCandidate(now, ifc)

	case AddrRemoved:
		ifc, err := e.table.RemoveAddress(ev.IfIndex, ev.Addr)
		if err != nil {
			e.logger.Warn("remove_address", "err", err)
			return
		}
		e.reconsiderCandidate(now, ifc)
	}
}

// retireIface cancels every timer an interface owns and clears its group
// and remote-querier state. Kernel multicast-group departure is the
// Transport's responsibility at stop_iface, not this function's.
func (e *Engine) retireIface(ifc *Iface) {
	e.wheel.Del(ifc.QueryTimer)
	e.wheel.Del(ifc.startupTimer)
	if ifc.RemoteQuerier != nil {
		e.wheel.Del(ifc.RemoteQuerier.OQPITimer)
	}
	for _, g := range ifc.Groups {
		e.wheel.Del(g.MembershipTimer)
		e.wheel.Del(g.RetransmitTimer)
		e.wheel.Del(g.VersionUpgradeTimer)
	}
	ifc.Groups = make(map[netip.Addr]*Group)
	ifc.RemoteQuerier = nil
}

// teardown retires every interface on an orderly shutdown.
func (e *Engine) teardown() {
	e.table.Each(func(ifc *Iface) bool {
		e.retireIface(ifc)
		return true
	})
}
