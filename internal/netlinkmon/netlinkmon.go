// Package netlinkmon implements the OS interface/address event source on
// top of github.com/vishvananda/netlink. It turns the kernel's link and
// address notifications into the querier.LinkEvent stream the event
// dispatcher selects on.
package netlinkmon

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	nl "github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/joshuafuller/querierd/querier"
)

// Monitor owns the netlink subscription and the initial link/address sweep.
type Monitor struct {
	logger *slog.Logger
	events chan querier.LinkEvent
	done   chan struct{}

	// known tracks ifindexes Events() has already announced via IfaceNew,
	// so Run can synthesize IfaceNew for a link that appears after Sweep
	// (hot-plug) before forwarding its up/down state.
	known map[int]bool
}

// New creates a Monitor. Events is buffered so the initial Sweep can
// complete before any consumer starts draining it; call Sweep then Run to
// perform the initial seed and start the live subscription.
func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger,
		events: make(chan querier.LinkEvent, 256),
		done:   make(chan struct{}),
		known:  make(map[int]bool),
	}
}

// Events returns the channel the Event Dispatcher consumes.
func (m *Monitor) Events() <-chan querier.LinkEvent { return m.events }

// Close stops the subscription goroutine.
func (m *Monitor) Close() { close(m.done) }

// Sweep performs the initial synchronous LinkList/AddrList pass so the
// dispatcher never races the kernel's current state. It sends IfaceNew,
// IfaceUp (for already-up links) and AddrAdded events on Events(), which is
// buffered so Sweep can complete before any consumer starts draining it.
func (m *Monitor) Sweep() error {
	links, err := nl.LinkList()
	if err != nil {
		return fmt.Errorf("netlink link list: %w", err)
	}
	for _, link := range links {
		attrs := link.Attrs()
		m.known[attrs.Index] = true
		m.events <- querier.LinkEvent{Kind: querier.IfaceNew, IfIndex: attrs.Index, Name: attrs.Name}
		if attrs.Flags&net.FlagUp != 0 {
			m.events <- querier.LinkEvent{Kind: querier.IfaceUp, IfIndex: attrs.Index, Name: attrs.Name}
		}

		addrs, err := nl.AddrList(link, unix.AF_INET)
		if err != nil {
			m.logger.Warn("netlink addr list", "iface", attrs.Name, "err", err)
			continue
		}
		for _, a := range addrs {
			addr, ok := netip.AddrFromSlice(a.IP.To4())
			if !ok {
				continue
			}
			m.events <- querier.LinkEvent{Kind: querier.AddrAdded, IfIndex: attrs.Index, Addr: addr}
		}
	}
	return nil
}

// Run subscribes to link and address updates and forwards them on Events()
// until Close is called. Run must be invoked in its own goroutine by the
// caller.
func (m *Monitor) Run() {
	linkUpdates := make(chan nl.LinkUpdate)
	addrUpdates := make(chan nl.AddrUpdate)

	if err := nl.LinkSubscribe(linkUpdates, m.done); err != nil {
		m.logger.Error("netlink link subscribe failed", "err", err)
		return
	}
	if err := nl.AddrSubscribe(addrUpdates, m.done); err != nil {
		m.logger.Error("netlink addr subscribe failed", "err", err)
		return
	}

	for {
		select {
		case <-m.done:
			return

		case upd, ok := <-linkUpdates:
			if !ok {
				return
			}
			attrs := upd.Link.Attrs()
			kind := querier.IfaceDown
			switch {
			case upd.Header.Type == unix.RTM_DELLINK:
				kind = querier.IfaceGone
				delete(m.known, attrs.Index)
			case attrs.Flags&net.FlagUp != 0:
				kind = querier.IfaceUp
			}

			if kind != querier.IfaceGone && !m.known[attrs.Index] {
				m.known[attrs.Index] = true
				select {
				case m.events <- querier.LinkEvent{Kind: querier.IfaceNew, IfIndex: attrs.Index, Name: attrs.Name}:
				case <-m.done:
					return
				}
			}
			select {
			case m.events <- querier.LinkEvent{Kind: kind, IfIndex: attrs.Index, Name: attrs.Name}:
			case <-m.done:
				return
			}

		case upd, ok := <-addrUpdates:
			if !ok {
				return
			}
			addr, ok2 := netip.AddrFromSlice(upd.LinkAddress.IP.To4())
			if !ok2 {
				continue
			}
			kind := querier.AddrRemoved
			if upd.NewAddr {
				kind = querier.AddrAdded
			}
			select {
			case m.events <- querier.LinkEvent{Kind: kind, IfIndex: upd.LinkIndex, Addr: addr}:
			case <-m.done:
				return
			}
		}
	}
}
