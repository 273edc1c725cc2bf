package discovery

import (
	"net"
	"sort"
	"time"

	"github.com/controledu/classroom/internal/wire"
)

// Candidate is one discovered teacher server, ranked by score.
type Candidate struct {
	HostPort   string
	ServerID   string
	ServerName string
	Score      int
}

// Probe sends the discovery request over broadcast, per-interface directed
// broadcast, and multicast, then collects and scores replies for
// collectWindow.
func Probe(collectWindow time.Duration) ([]Candidate, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	targets := probeTargets()
	probe := []byte(wire.DiscoveryProbe)

	send := func() {
		for _, t := range targets {
			conn.WriteToUDP(probe, t)
		}
	}
	send()
	time.AfterFunc(120*time.Millisecond, send)

	localNets := localIPv4Nets()
	byServer := map[string]Candidate{}

	deadline := time.Now().Add(collectWindow)
	buf := make([]byte, 512)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		conn.SetReadDeadline(time.Now().Add(remaining))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		hostPort, serverID, serverName, ok := parseReply(string(buf[:n]))
		if !ok {
			continue
		}
		score := scoreHost(hostPort, localNets)
		c := Candidate{HostPort: hostPort, ServerID: serverID, ServerName: serverName, Score: score}
		if prev, exists := byServer[serverID]; !exists || c.Score > prev.Score ||
			(c.Score == prev.Score && c.HostPort < prev.HostPort) {
			byServer[serverID] = c
		}
	}

	out := make([]Candidate, 0, len(byServer))
	for _, c := range byServer {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ServerName < out[j].ServerName
	})
	return out, nil
}

// probeTargets enumerates the destinations a probe burst is sent to:
// global broadcast, the multicast group, and every local interface's
// directed broadcast address.
func probeTargets() []*net.UDPAddr {
	targets := []*net.UDPAddr{
		{IP: net.IPv4bcast, Port: wire.DiscoveryPort},
		{IP: net.ParseIP(wire.DiscoveryMulticastGroup), Port: wire.DiscoveryPort},
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return targets
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}
			bcast := directedBroadcast(v4, ipNet.Mask)
			if bcast != nil {
				targets = append(targets, &net.UDPAddr{IP: bcast, Port: wire.DiscoveryPort})
			}
		}
	}
	return targets
}

func directedBroadcast(ip net.IP, mask net.IPMask) net.IP {
	if len(ip) != len(mask) {
		return nil
	}
	out := make(net.IP, len(ip))
	for i := range ip {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}

func localIPv4Nets() []*net.IPNet {
	var nets []*net.IPNet
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nets
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.To4() != nil {
			nets = append(nets, ipNet)
		}
	}
	return nets
}

// scoreHost implements the candidate scoring rule: +220 same
// subnet, +80 RFC-1918 private, +20 not link-local (else -40), -100
// loopback, -10 unparseable.
func scoreHost(hostPort string, localNets []*net.IPNet) int {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		return -10
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return -10
	}
	if ip.IsLoopback() {
		return -100
	}

	score := 0
	for _, n := range localNets {
		if n.Contains(ip) {
			score += 220
			break
		}
	}
	if isPrivate(ip) {
		score += 80
	}
	if ip.IsLinkLocalUnicast() {
		score -= 40
	} else {
		score += 20
	}
	return score
}

func isPrivate(ip net.IP) bool {
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, block, _ := net.ParseCIDR(cidr)
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
