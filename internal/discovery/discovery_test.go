package discovery

import (
	"net"
	"testing"

	"github.com/controledu/classroom/internal/wire"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantOK  bool
	}{
		{"valid", "CONTROLEDU_HERE 192.168.1.10:40556 srv-1 Room 204", true},
		{"wrong prefix", "SOMETHING_ELSE 192.168.1.10:40556 srv-1 name", false},
		{"missing port", "CONTROLEDU_HERE 192.168.1.10 srv-1 name", false},
		{"truncated", "CONTROLEDU_HERE 192.168.1.10:40556", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, ok := parseReply(tt.payload)
			if ok != tt.wantOK {
				t.Errorf("parseReply(%q) ok = %v, want %v", tt.payload, ok, tt.wantOK)
			}
		})
	}
}

func TestParseReplyFields(t *testing.T) {
	hostPort, serverID, serverName, ok := parseReply("CONTROLEDU_HERE 10.0.0.5:40556 srv-42 Room 204")
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if hostPort != "10.0.0.5:40556" || serverID != "srv-42" || serverName != "Room 204" {
		t.Errorf("got (%q, %q, %q)", hostPort, serverID, serverName)
	}
}

func TestScoreHostLoopback(t *testing.T) {
	score := scoreHost("127.0.0.1:40556", nil)
	if score != -100 {
		t.Errorf("loopback score = %d, want -100", score)
	}
}

func TestScoreHostUnparseable(t *testing.T) {
	score := scoreHost("not-a-host", nil)
	if score != -10 {
		t.Errorf("unparseable score = %d, want -10", score)
	}
}

func TestScoreHostSameSubnetBeatsOther(t *testing.T) {
	_, localNet, _ := net.ParseCIDR("192.168.1.0/24")
	local := []*net.IPNet{localNet}

	same := scoreHost("192.168.1.50:40556", local)
	other := scoreHost("192.168.2.50:40556", local)
	if same <= other {
		t.Errorf("same-subnet score %d did not beat other-subnet score %d", same, other)
	}
}

func TestScoreHostPrivateBeatsPublic(t *testing.T) {
	private := scoreHost("10.0.0.5:40556", nil)
	public := scoreHost("8.8.8.8:40556", nil)
	if private <= public {
		t.Errorf("private score %d did not beat public score %d", private, public)
	}
}

func TestScoreHostLinkLocalPenalized(t *testing.T) {
	linkLocal := scoreHost("169.254.1.1:40556", nil)
	routable := scoreHost("203.0.113.5:40556", nil)
	if linkLocal >= routable {
		t.Errorf("link-local score %d should be lower than routable score %d", linkLocal, routable)
	}
}

func TestDirectedBroadcast(t *testing.T) {
	ip := net.ParseIP("192.168.1.37").To4()
	_, ipNet, _ := net.ParseCIDR("192.168.1.0/24")
	bcast := directedBroadcast(ip, ipNet.Mask)
	if bcast.String() != "192.168.1.255" {
		t.Errorf("directedBroadcast = %v, want 192.168.1.255", bcast)
	}
}

func TestDiscoveryProbeConstant(t *testing.T) {
	if wire.DiscoveryProbe != "DISCOVER_CONTROLEDU" {
		t.Errorf("DiscoveryProbe = %q", wire.DiscoveryProbe)
	}
}
