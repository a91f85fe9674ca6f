package querier

import (
	"net/netip"
	"time"

	"github.com/joshuafuller/querierd/internal/wire"
)

// DispatchV3Report walks the group records already parsed by the wire
// codec and maps each to a Join/Leave call. A decode error on the report (a
// bounds violation on some later record) does not prevent processing the
// records that parsed cleanly before it, since the wire package truncates
// msg.Records at the bad one rather than discarding the whole report.
func (e *Engine) DispatchV3Report(now time.Time, ifc *Iface, src netip.Addr, records []wire.GroupRecord) {
	for _, rec := range records {
		e.dispatchGroupRecord(now, ifc, src, rec)
	}
}

func (e *Engine) dispatchGroupRecord(now time.Time, ifc *Iface, src netip.Addr, rec wire.GroupRecord) {
	switch rec.Type {
	case wire.ModeIsInclude, wire.ChangeToInclude:
		if len(rec.Sources) == 0 {
			e.Leave(now, ifc, rec.Group, true)
			return
		}
		for range rec.Sources {
			e.Join(now, ifc, rec.Group, src, wire.V3)
		}

	case wire.ModeIsExclude, wire.ChangeToExclude:
		if len(rec.Sources) == 0 {
			e.Join(now, ifc, rec.Group, src, wire.V3)
			return
		}
		e.logger.Info("LW-IGMPv3 not supported", "iface", ifc.Name, "group", rec.Group)

	case wire.AllowNewSources:
		for range rec.Sources {
			e.Join(now, ifc, rec.Group, src, wire.V3)
		}

	case wire.BlockOldSources:
		for range rec.Sources {
			e.Leave(now, ifc, rec.Group, true)
		}

	default:
		// silently ignored per RFC 3376 §4.2.12
	}
}
