package querier

import (
	"net/netip"

	qerrors "github.com/joshuafuller/querierd/internal/errors"
	"github.com/joshuafuller/querierd/internal/wire"
)

// Table is the process-wide ifindex -> Iface map. Table owns every Iface
// and, transitively, every Group and RemoteQuerier; nothing outside the
// Engine's dispatcher goroutine may call its mutators.
type Table struct {
	byIndex map[int]*Iface
	byName  map[string]int

	// defaultVersionMode seeds every Iface's VersionMode at creation, per
	// the administrative compatibility ceiling in Config.VersionMode.
	defaultVersionMode wire.Version
}

// NewTable returns an empty Table. versionMode seeds every Iface created
// through Add with its administrative compatibility ceiling.
func NewTable(versionMode wire.Version) *Table {
	return &Table{
		byIndex:            make(map[int]*Iface),
		byName:             make(map[string]int),
		defaultVersionMode: versionMode,
	}
}

// Add creates a new Iface for ifindex, or returns the existing one if
// already present. The dispatcher calls it only for an IfaceNew link event;
// an address notification for an ifindex not yet in the table does not
// create an Iface (AddAddress returns an error instead).
func (t *Table) Add(ifindex int, name string) *Iface {
	if ifc, ok := t.byIndex[ifindex]; ok {
		return ifc
	}
	ifc := newIface(ifindex, name, t.defaultVersionMode)
	t.byIndex[ifindex] = ifc
	t.byName[name] = ifindex
	return ifc
}

// Remove destroys the Iface for ifindex, if any.
func (t *Table) Remove(ifindex int) {
	ifc, ok := t.byIndex[ifindex]
	if !ok {
		return
	}
	delete(t.byName, ifc.Name)
	delete(t.byIndex, ifindex)
}

// Get looks up an Iface by its OS-assigned index, the primary key.
func (t *Table) Get(ifindex int) (*Iface, bool) {
	ifc, ok := t.byIndex[ifindex]
	return ifc, ok
}

// GetByName looks up an Iface by its stable name.
func (t *Table) GetByName(name string) (*Iface, bool) {
	ifindex, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.Get(ifindex)
}

// GetByAddress looks up the Iface currently using addr as its elected
// current_address.
func (t *Table) GetByAddress(addr netip.Addr) (*Iface, bool) {
	for _, ifc := range t.byIndex {
		if ifc.CurrentAddress == addr {
			return ifc, true
		}
	}
	return nil, false
}

// AddAddress adds addr to ifindex's configured address set. Adding the same
// (ifindex, addr) twice leaves a single record. Returns the Iface so
// callers can re-run election against it.
func (t *Table) AddAddress(ifindex int, addr netip.Addr, flags Flag) (*Iface, error) {
	ifc, ok := t.Get(ifindex)
	if !ok {
		return nil, &qerrors.ConfigError{Field: "ifindex", Value: ifindex, Message: "add_address on unknown interface"}
	}
	ifc.Addresses[addr] = struct{}{}
	ifc.Flags |= flags
	return ifc, nil
}

// RemoveAddress removes addr from ifindex's configured address set.
func (t *Table) RemoveAddress(ifindex int, addr netip.Addr) (*Iface, error) {
	ifc, ok := t.Get(ifindex)
	if !ok {
		return nil, &qerrors.ConfigError{Field: "ifindex", Value: ifindex, Message: "remove_address on unknown interface"}
	}
	delete(ifc.Addresses, addr)
	return ifc, nil
}

// Each calls fn for every interface in the table over a stable snapshot, so
// fn may mutate the table (e.g. Remove a different interface) without
// corrupting the traversal. Iteration stops early if fn returns false.
func (t *Table) Each(fn func(*Iface) bool) {
	snapshot := make([]*Iface, 0, len(t.byIndex))
	for _, ifc := range t.byIndex {
		snapshot = append(snapshot, ifc)
	}
	for _, ifc := range snapshot {
		if _, stillPresent := t.byIndex[ifc.Index]; !stillPresent {
			continue
		}
		if !fn(ifc) {
			return
		}
	}
}

// Len returns the number of interfaces currently tracked.
func (t *Table) Len() int { return len(t.byIndex) }
