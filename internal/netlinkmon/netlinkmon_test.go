package netlinkmon

import (
	"testing"
)

// Sweep and Run both require real netlink sockets (CAP_NET_ADMIN), so they
// are exercised in integration testing rather than here. This covers the
// parts that don't touch the kernel: construction and the Events/Close
// plumbing the dispatcher depends on.

func TestNewHasOpenEventsChannel(t *testing.T) {
	m := New(nil)
	defer m.Close()

	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event on a fresh monitor: %+v", ev)
	default:
	}
}

func TestCloseClosesDoneChannel(t *testing.T) {
	m := New(nil)
	m.Close()

	select {
	case <-m.done:
	default:
		t.Fatal("done channel should be closed")
	}
}
