// Package discovery implements the LAN "find the teacher server" protocol:
// a UDP responder on the teacher side and a broadcast/multicast prober
// with subnet-affinity scoring on the student side.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/wire"
)

// Responder answers discovery probes on wire.DiscoveryPort and, optionally,
// on the multicast group.
type Responder struct {
	ServerID    string
	ServerName  string
	HubPort     int
	log         *telemetry.Logger
	udpConn     *net.UDPConn
	mcastConn   *net.UDPConn
	stop        chan struct{}
}

// NewResponder binds the discovery UDP socket and, best-effort, joins the
// multicast group. Failure to join multicast is logged and non-fatal: plain
// broadcast/unicast replies still work.
func NewResponder(serverID, serverName string, hubPort int, log *telemetry.Logger) (*Responder, error) {
	addr := &net.UDPAddr{Port: wire.DiscoveryPort}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen udp: %w", err)
	}

	r := &Responder{
		ServerID: serverID, ServerName: serverName, HubPort: hubPort,
		log: log, udpConn: conn, stop: make(chan struct{}),
	}

	if mconn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{
		IP: net.ParseIP(wire.DiscoveryMulticastGroup), Port: wire.DiscoveryPort,
	}); err == nil {
		r.mcastConn = mconn
	} else if log != nil {
		log.Warn("discovery: multicast join failed, broadcast-only: " + err.Error())
	}

	return r, nil
}

// Run starts one serving goroutine per listening socket and returns at once;
// those goroutines answer discovery probes until Stop is called.
func (r *Responder) Run() {
	go r.serve(r.udpConn)
	if r.mcastConn != nil {
		go r.serve(r.mcastConn)
	}
}

// Stop closes both sockets, unblocking Run's goroutines.
func (r *Responder) Stop() {
	close(r.stop)
	r.udpConn.Close()
	if r.mcastConn != nil {
		r.mcastConn.Close()
	}
}

func (r *Responder) serve(conn *net.UDPConn) {
	buf := make([]byte, 512)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.stop:
				return
			default:
			}
			continue
		}
		if string(buf[:n]) != wire.DiscoveryProbe {
			continue
		}
		host := r.preferredLocalHost(peer)
		reply := fmt.Sprintf("%s %s:%d %s %s", wire.DiscoveryReplyPrefix, host, r.HubPort, r.ServerID, r.ServerName)
		if _, err := conn.WriteToUDP([]byte(reply), peer); err != nil && r.log != nil {
			r.log.Warn("discovery: reply write failed: " + err.Error())
		}
	}
}

// preferredLocalHost learns which local interface routes to peer by
// opening a UDP-connect (no packets sent) and reading the chosen local
// address; falls back to the first non-loopback IPv4 address.
func (r *Responder) preferredLocalHost(peer *net.UDPAddr) string {
	if conn, err := net.Dial("udp4", peer.IP.String()+":0"); err == nil {
		defer conn.Close()
		if local, ok := conn.LocalAddr().(*net.UDPAddr); ok && local.IP != nil && !local.IP.IsUnspecified() {
			return local.IP.String()
		}
	}

	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range ifaces {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}

// parseReply splits a DiscoveryReplyPrefix payload into its fields. Returns
// ok=false for anything not matching the expected shape.
func parseReply(payload string) (hostPort, serverID, serverName string, ok bool) {
	fields := strings.SplitN(payload, " ", 4)
	if len(fields) != 4 || fields[0] != wire.DiscoveryReplyPrefix {
		return "", "", "", false
	}
	if _, _, err := net.SplitHostPort(fields[1]); err != nil {
		return "", "", "", false
	}
	if _, err := strconv.Atoi(strings.SplitN(fields[1], ":", 2)[1]); err != nil {
		return "", "", "", false
	}
	return fields[1], fields[2], fields[3], true
}
