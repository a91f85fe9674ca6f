//go:build linux

// Package transport implements the byte-channel transport on top of a
// single IP_HDRINCL raw IGMP socket, shared by every interface. Egress
// interface is selected per send via IP_PKTINFO; ingress interface is
// recovered the same way on receive, so each received packet carries its
// ingress ifindex as ancillary data. Multicast group membership is managed
// through golang.org/x/net/ipv4.
package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"unsafe"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	qerrors "github.com/joshuafuller/querierd/internal/errors"
	"github.com/joshuafuller/querierd/querier"
)

const (
	allRouters   = "224.0.0.2"  // all-routers group; hosts send v2 Leave here
	allReportsV3 = "224.0.0.22" // all-IGMPv3-capable-routers group; hosts send v3 reports here
)

// Raw is a single shared IP_HDRINCL raw socket implementing
// querier.Transport. One Raw serves every interface in the Interface Table:
// interfaces are distinguished by IP_PKTINFO on send and by the ancillary
// ifindex recovered on receive, not by one socket per interface.
type Raw struct {
	fd     int
	logger *slog.Logger

	mu sync.Mutex // serializes writes to fd; reads happen on a single goroutine

	// members holds one membership-only raw socket per joined interface,
	// wrapped in ipv4.NewPacketConn for JoinGroup/LeaveGroup. It carries no
	// traffic of its own: joining any socket to a multicast group on an
	// interface programs the interface's multicast filter, so frames still
	// arrive on the shared data-plane socket above.
	members map[int]*ipv4.PacketConn
}

// Open creates the shared raw socket and enables IP_PKTINFO/IP_HDRINCL.
// Returns a FatalInit error on any setup failure.
func Open(logger *slog.Logger) (*Raw, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_IGMP)
	if err != nil {
		return nil, &qerrors.FatalInit{Operation: "open raw igmp socket", Err: err}
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		return nil, &qerrors.FatalInit{Operation: "setsockopt IP_HDRINCL", Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
		return nil, &qerrors.FatalInit{Operation: "setsockopt IP_PKTINFO", Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, &qerrors.FatalInit{Operation: "set nonblock", Err: err}
	}

	ok = true
	return &Raw{fd: fd, logger: logger, members: make(map[int]*ipv4.PacketConn)}, nil
}

// Close releases the raw socket.
func (r *Raw) Close() error {
	return unix.Close(r.fd)
}

// Send implements querier.Transport: pkt is a complete IPv4+IGMP frame
// already produced by internal/wire, so Send only has to steer it out the
// right interface via IP_PKTINFO; it never touches the bytes.
func (r *Raw) Send(pkt []byte, ifindex int) error {
	if len(pkt) < 20 {
		return &qerrors.SendError{Operation: "send", Err: fmt.Errorf("packet too short: %d bytes", len(pkt))}
	}
	dst := unix.SockaddrInet4{}
	copy(dst.Addr[:], pkt[16:20])

	r.mu.Lock()
	defer r.mu.Unlock()

	oob := buildPktinfoOOB(ifindex)
	if _, err := unix.SendmsgN(r.fd, pkt, oob, &dst, 0); err != nil {
		return &qerrors.SendError{Operation: "sendmsg", Err: err}
	}
	return nil
}

// StartIface joins the 224.0.0.2/224.0.0.22 all-routers/all-v3-reports
// groups on ifi, so the kernel's multicast filter admits both v2 Leave
// messages (sent to all-routers) and v3 reports (sent to 224.0.0.22).
// Joining is idempotent per interface. It opens a dedicated raw socket for
// ifi and wraps it in ipv4.PacketConn for JoinGroup; the membership socket
// carries no traffic itself, it only programs the interface's multicast
// filter so the shared data-plane socket starts receiving the group's
// frames.
func (r *Raw) StartIface(ifi *net.Interface) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[ifi.Index]; ok {
		return nil
	}

	conn, err := net.ListenPacket(fmt.Sprintf("ip4:%d", unix.IPPROTO_IGMP), "0.0.0.0")
	if err != nil {
		return fmt.Errorf("open membership socket for %s: %w", ifi.Name, err)
	}
	p := ipv4.NewPacketConn(conn)
	for _, group := range []string{allRouters, allReportsV3} {
		if err := p.JoinGroup(ifi, &net.IPAddr{IP: net.ParseIP(group)}); err != nil {
			p.Close()
			return fmt.Errorf("join %s on %s: %w", group, ifi.Name, err)
		}
	}
	r.members[ifi.Index] = p
	return nil
}

// StopIface leaves the groups StartIface joined.
func (r *Raw) StopIface(ifi *net.Interface) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.members[ifi.Index]
	if !ok {
		return nil
	}
	for _, group := range []string{allRouters, allReportsV3} {
		if err := p.LeaveGroup(ifi, &net.IPAddr{IP: net.ParseIP(group)}); err != nil {
			r.logger.Warn("leave group", "iface", ifi.Name, "group", group, "err", err)
		}
	}
	p.Close()
	delete(r.members, ifi.Index)
	return nil
}

// ReadLoop blocks receiving frames and forwards them on out, recovering the
// ingress ifindex from the IP_PKTINFO ancillary data, until done is closed.
// It is the only goroutine that calls unix.Recvmsg on this socket.
func (r *Raw) ReadLoop(out chan<- querier.RawPacket, done <-chan struct{}) {
	buf := make([]byte, 65535)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofInet4Pktinfo))
	pfds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := unix.Poll(pfds, 200)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.logger.Error("poll raw socket", "err", err)
			return
		}
		if n == 0 || pfds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		nr, oobn, _, _, err := unix.Recvmsg(r.fd, buf, oob, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			r.logger.Warn("recvmsg", "err", err)
			continue
		}

		ifindex := ingressIfindex(oob[:oobn])
		if ifindex == 0 {
			continue
		}

		data := make([]byte, nr)
		copy(data, buf[:nr])

		pkt := querier.RawPacket{Data: data, IfIndex: ifindex}
		select {
		case out <- pkt:
		case <-done:
			return
		}
	}
}

func buildPktinfoOOB(ifindex int) []byte {
	oob := make([]byte, unix.CmsgSpace(unix.SizeofInet4Pktinfo))
	cm := (*unix.Cmsghdr)(unsafe.Pointer(&oob[0]))
	cm.Level = unix.IPPROTO_IP
	cm.Type = unix.IP_PKTINFO
	cm.SetLen(unix.CmsgLen(unix.SizeofInet4Pktinfo))

	data := oob[unix.CmsgLen(0):unix.CmsgLen(unix.SizeofInet4Pktinfo)]
	var pi unix.Inet4Pktinfo
	pi.Ifindex = int32(ifindex)
	*(*unix.Inet4Pktinfo)(unsafe.Pointer(&data[0])) = pi
	return oob
}

func ingressIfindex(oob []byte) int {
	if len(oob) == 0 {
		return 0
	}
	cms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0
	}
	for _, cm := range cms {
		if cm.Header.Level == unix.IPPROTO_IP && cm.Header.Type == unix.IP_PKTINFO && len(cm.Data) >= unix.SizeofInet4Pktinfo {
			var pi unix.Inet4Pktinfo
			copy((*[unix.SizeofInet4Pktinfo]byte)(unsafe.Pointer(&pi))[:], cm.Data[:unix.SizeofInet4Pktinfo])
			return int(pi.Ifindex)
		}
	}
	return 0
}
