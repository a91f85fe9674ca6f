package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshuafuller/querierd/internal/config"
	"github.com/joshuafuller/querierd/internal/netlinkmon"
	"github.com/joshuafuller/querierd/internal/observer"
	"github.com/joshuafuller/querierd/internal/transport"
	"github.com/joshuafuller/querierd/querier"
)

// runDaemon wires the Engine (querier package) to its ambient collaborators
// and blocks until a shutdown signal or ctx cancellation. Five auxiliary
// goroutines run alongside the dispatcher: the raw-socket reader, the
// netlink subscription reader, the netlink-to-dispatcher event relay, and
// the metrics/observer HTTP servers.
func runDaemon(cfg *config.Config) error {
	logger := newLogger(cfg.LogLevel)

	raw, err := transport.Open(logger)
	if err != nil {
		logger.Error("failed to open raw transport", "err", err)
		return err
	}
	defer raw.Close()

	metrics := observer.NewPromMetrics()
	engine := querier.NewEngine(cfg.Querier, raw, logger, metrics)

	mon := netlinkmon.New(logger)
	defer mon.Close()

	for _, name := range cfg.Interfaces {
		if _, err := net.InterfaceByName(name); err != nil {
			logger.Warn("configured interface not present, skipping", "iface", name, "err", err)
		}
	}
	allowed := allowList(cfg.Interfaces)
	events := relayWithLifecycle(mon.Events(), raw, logger, allowed)

	if err := mon.Sweep(); err != nil {
		logger.Warn("netlink initial sweep failed, continuing with subscription only", "err", err)
	}
	go mon.Run()

	packets := make(chan querier.RawPacket, 64)
	done := make(chan struct{})
	go raw.ReadLoop(packets, done)
	defer close(done)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: observer.MetricsMux()}
	go serveBestEffort(logger, "metrics", metricsSrv)
	defer metricsSrv.Close()

	observerSrv := &http.Server{Addr: cfg.ObserverAddr, Handler: observer.NewServer(engine, nil).Mux()}
	go serveBestEffort(logger, "observer", observerSrv)
	defer observerSrv.Close()

	if cfg.PIDFile != "" {
		if err := os.WriteFile(cfg.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			logger.Warn("failed to write pidfile", "path", cfg.PIDFile, "err", err)
		} else {
			defer os.Remove(cfg.PIDFile)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	logger.Info("querierd starting", "version", version, "metrics_addr", cfg.MetricsAddr, "observer_addr", cfg.ObserverAddr)
	return engine.Run(ctx, packets, events, sigs)
}

func serveBestEffort(logger interface {
	Info(string, ...interface{})
	Error(string, ...interface{})
}, name string, srv *http.Server) {
	logger.Info("starting http server", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server stopped", "server", name, "err", err)
	}
}

func allowList(names []string) func(string) bool {
	if len(names) == 0 {
		return func(name string) bool {
			ifi, err := net.InterfaceByName(name)
			return err == nil && ifi.Flags&net.FlagMulticast != 0
		}
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

// relayWithLifecycle forwards netlink events to the dispatcher, filtering
// interfaces outside the configured allow-list and driving the Raw
// transport's start_iface/stop_iface group-membership lifecycle from the
// same up/down/gone transitions the dispatcher reacts to.
func relayWithLifecycle(in <-chan querier.LinkEvent, raw *transport.Raw, logger interface {
	Warn(string, ...interface{})
}, allowed func(string) bool) <-chan querier.LinkEvent {
	out := make(chan querier.LinkEvent, 64)
	known := make(map[int]bool)

	go func() {
		defer close(out)
		for ev := range in {
			if ev.Kind == querier.IfaceNew {
				if !allowed(ev.Name) {
					continue
				}
				known[ev.IfIndex] = true
			}
			if !known[ev.IfIndex] {
				continue
			}

			switch ev.Kind {
			case querier.IfaceUp:
				if ifi, err := net.InterfaceByIndex(ev.IfIndex); err == nil {
					if err := raw.StartIface(ifi); err != nil {
						logger.Warn("start_iface", "iface", ifi.Name, "err", err)
					}
				}
			case querier.IfaceDown:
				if ifi, err := net.InterfaceByIndex(ev.IfIndex); err == nil {
					if err := raw.StopIface(ifi); err != nil {
						logger.Warn("stop_iface", "iface", ifi.Name, "err", err)
					}
				}
			case querier.IfaceGone:
				// The interface is already gone from the OS, so
				// InterfaceByIndex would fail; ev carries the ifindex/name
				// pair netlink reported on the RTM_DELLINK itself.
				ifi := &net.Interface{Index: ev.IfIndex, Name: ev.Name}
				if err := raw.StopIface(ifi); err != nil {
					logger.Warn("stop_iface", "iface", ifi.Name, "err", err)
				}
				delete(known, ev.IfIndex)
			}
			out <- ev
		}
	}()

	return out
}
