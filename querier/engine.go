package querier

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/joshuafuller/querierd/internal/timer"
)

// Transport is the byte-channel send side of the raw-socket collaborator.
// Receiving is handled out of band: the caller of Run feeds decoded-ready
// packets in on a channel (see RawPacket), keeping the Engine itself free
// of any socket or syscall dependency.
type Transport interface {
	Send(pkt []byte, ifindex int) error
}

// RawPacket is one frame read off the wire, paired with the ancillary
// ingress interface index delivered alongside each received packet.
type RawPacket struct {
	Data    []byte
	IfIndex int
}

// EventKind discriminates the OS link/address notifications the dispatcher
// consumes.
type EventKind int

const (
	IfaceUp EventKind = iota
	IfaceDown
	IfaceNew
	AddrAdded
	AddrRemoved
	// IfaceGone marks an interface the OS has destroyed outright (an
	// RTM_DELLINK, not merely a down transition). The dispatcher removes
	// it from the Table rather than just stopping its queries.
	IfaceGone
)

// LinkEvent is one OS-sourced interface or address change.
type LinkEvent struct {
	Kind    EventKind
	IfIndex int
	Name    string // set for link events (IfaceNew/IfaceUp/IfaceDown/IfaceGone)
	Addr    netip.Addr
}

// Metrics receives the counters and gauges the Observer API exports. A nil
// Metrics is replaced by a no-op implementation, so instrumentation is
// opt-in for callers that do not need it (e.g. unit tests).
type Metrics interface {
	IncQueriesSent()
	IncElections()
	IncDecodeErrors()
	SetGroupCount(ifindex int, n int)
}

type noopMetrics struct{}

func (noopMetrics) IncQueriesSent()                  {}
func (noopMetrics) IncElections()                    {}
func (noopMetrics) IncDecodeErrors()                 {}
func (noopMetrics) SetGroupCount(ifindex int, n int) {}

// Engine ties the Interface Table, Querier Election, Group Membership
// Engine, IGMPv3 Report Parser and Event Dispatcher together into a
// single-threaded core.
//
// Every exported method on Engine (and on the Table it returns) must be
// called only from the goroutine running Run; there is no locking. Callers
// on another goroutine that need a consistent read of Table/Iface/Group
// state must go through Query instead.
type Engine struct {
	table     *Table
	wheel     *timer.Wheel
	cfg       Config
	transport Transport
	logger    *slog.Logger
	metrics   Metrics
	queries   chan query
}

// query is a request/response pair Run services from inside its select
// loop, letting another goroutine read Table/Iface/Group state without a
// data race and without the core taking a lock.
type query struct {
	fn   func()
	done chan struct{}
}

// NewEngine constructs an Engine. logger and metrics may be nil; a nil
// logger falls back to slog.Default(), a nil metrics to a no-op.
func NewEngine(cfg Config, transport Transport, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{
		table:     NewTable(cfg.VersionMode),
		wheel:     timer.New(),
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
		queries:   make(chan query),
	}
}

// Table returns the engine's Interface Table for seeding/inspection.
// Mutating it outside Run's goroutine is unsafe; callers running on another
// goroutine once Run has started must use Query instead.
func (e *Engine) Table() *Table { return e.table }

// Remaining returns the milliseconds left on timer handle h, or 0 if h is
// zero or already fired. It lets read-only observers report countdowns
// without reaching into the timer wheel directly.
func (e *Engine) Remaining(now time.Time, h timer.Handle) int64 {
	return e.wheel.Get(now, h)
}

// Query runs fn on the dispatcher goroutine and blocks until it returns,
// giving another goroutine (the Observer API's HTTP handlers, typically) a
// data-race-free way to read Table/Iface/Group state. fn must not block and
// must not call back into Query or any other Engine method; it should only
// read state and copy out what the caller needs. Query never returns if Run
// has already exited, so callers should pair it with ctx cancellation.
func (e *Engine) Query(fn func()) {
	q := query{fn: fn, done: make(chan struct{})}
	e.queries <- q
	<-q.done
}
