package querier

import (
	"net/netip"
	"time"

	"github.com/joshuafuller/querierd/internal/timer"
	"github.com/joshuafuller/querierd/internal/wire"
)

// Flag holds the administrative/link-state bits of an Iface. VersionMode is
// deliberately not one of these bits: rather than three independent
// IGMPV1/IGMPV2/QUERIER flags that could illegally assert both v1 and v2 at
// once, VersionMode is a sum type (wire.V1/V2/V3) orthogonal to the Querier
// bool, so that illegal state is unrepresentable.
type Flag uint8

const (
	FlagDown Flag = 1 << iota
	FlagDisabled
)

// RemoteQuerier records the address of another router that is currently
// acting as querier on this segment.
type RemoteQuerier struct {
	Address   netip.Addr
	CTime     time.Time
	OQPITimer timer.Handle
}

// Group is a learned (interface, multicast-address) membership entry.
type Group struct {
	Address  netip.Addr
	Reporter netip.Addr
	PV       wire.Version // compatibility version in effect for this group
	Static   bool

	MembershipTimer     timer.Handle
	RetransmitTimer     timer.Handle
	VersionUpgradeTimer timer.Handle

	CTime time.Time

	// retransmitRemaining counts the group-specific queries still owed by
	// an in-progress leave sequence; bookkeeping only.
	retransmitRemaining int
}

// Iface is a per-interface IGMP record.
type Iface struct {
	Index int
	Name  string

	Addresses       map[netip.Addr]struct{}
	CurrentAddress  netip.Addr
	PreviousAddress netip.Addr

	Flags       Flag
	Querier     bool
	VersionMode wire.Version // V1, V2 or V3; V3 is full capability

	RemoteQuerier *RemoteQuerier
	QueryTimer    timer.Handle

	// startupTimer backs the startup grace period: when an interface
	// regains a candidate address but it is not the interface's very first
	// election, we wait one OQPI in case a remote querier is already
	// active before self-electing. Bookkeeping only.
	startupTimer timer.Handle

	VersionWarnCount int

	Groups map[netip.Addr]*Group
}

// Down reports whether the interface is administratively or operationally
// inactive.
func (ifc *Iface) Down() bool { return ifc.Flags&FlagDown != 0 }

// Disabled reports whether the interface is administratively disabled.
func (ifc *Iface) Disabled() bool { return ifc.Flags&FlagDisabled != 0 }

// Muted reports whether outbound queries must be suppressed: no usable
// local address, the link is down, or the interface was disabled.
func (ifc *Iface) Muted() bool {
	return !ifc.CurrentAddress.IsValid() || ifc.Down() || ifc.Disabled()
}

func newIface(ifindex int, name string, versionMode wire.Version) *Iface {
	return &Iface{
		Index:       ifindex,
		Name:        name,
		Addresses:   make(map[netip.Addr]struct{}),
		VersionMode: versionMode,
		Groups:      make(map[netip.Addr]*Group),
	}
}
