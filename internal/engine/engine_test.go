package engine

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/negotiation"
	"github.com/pion/webrtc/v4"
)

func TestRelayHint(t *testing.T) {
	up := net.FlagUp
	tests := []struct {
		name   string
		ifaces []iface
		want   bool
	}{
		{"plain ethernet", []iface{{Name: "eth0", Flags: up, IPs: []net.IP{net.ParseIP("192.168.1.4")}}}, false},
		{"wireguard", []iface{{Name: "wg0", Flags: up}}, true},
		{"warp", []iface{{Name: "CloudflareWARP", Flags: up}}, true},
		{"cgnat address", []iface{{Name: "eth0", Flags: up, IPs: []net.IP{net.ParseIP("100.72.3.9")}}}, true},
		{"down tunnel", []iface{{Name: "tun0"}}, false},
		{"loopback", []iface{{Name: "lo", Flags: up | net.FlagLoopback, IPs: []net.IP{net.ParseIP("100.64.0.1")}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relayHint(tt.ifaces); got != tt.want {
				t.Errorf("relayHint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransportPolicy(t *testing.T) {
	yes := func() bool { return true }
	no := func() bool { return false }
	turn := []string{"turn:relay.example.com:3478?transport=udp"}

	tests := []struct {
		name string
		cfg  Config
		want webrtc.ICETransportPolicy
	}{
		{"no turn ignores force", Config{ForceRelay: true, DetectRelay: yes}, webrtc.ICETransportPolicyAll},
		{"turn without hint", Config{TURN: turn, DetectRelay: no}, webrtc.ICETransportPolicyAll},
		{"turn with hint", Config{TURN: turn, DetectRelay: yes}, webrtc.ICETransportPolicyRelay},
		{"turn forced", Config{TURN: turn, ForceRelay: true, DetectRelay: no}, webrtc.ICETransportPolicyRelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.transportPolicy(); got != tt.want {
				t.Errorf("transportPolicy() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestICEServers(t *testing.T) {
	cfg := Config{
		STUN:     []string{"stun:stun.l.google.com:19302"},
		TURN:     []string{"turn:relay.example.com:3478?transport=udp"},
		TURNUser: "u",
		TURNPass: "p",
	}
	servers := cfg.iceServers()
	if len(servers) != 2 {
		t.Fatalf("got %d ICE servers, want 2", len(servers))
	}
	if servers[1].Username != "u" || servers[1].Credential != "p" {
		t.Errorf("TURN credentials not carried: %+v", servers[1])
	}
	if got := (Config{}).iceServers(); len(got) != 0 {
		t.Errorf("empty config gave %d servers", len(got))
	}
}

func TestDescriptionConversion(t *testing.T) {
	sd, err := toSessionDescription(negotiation.Description{Type: "answer", SDP: "v=0"})
	if err != nil {
		t.Fatalf("toSessionDescription: %v", err)
	}
	if sd.Type != webrtc.SDPTypeAnswer || sd.SDP != "v=0" {
		t.Errorf("got %+v", sd)
	}
	if back := fromSessionDescription(sd); back.Type != "answer" {
		t.Errorf("fromSessionDescription type = %q", back.Type)
	}

	for _, bad := range []string{"", "pranswer", "rollback", "bogus"} {
		if _, err := toSessionDescription(negotiation.Description{Type: bad}); !errors.Is(err, errs.ErrUnexpectedDescription) {
			t.Errorf("type %q: err = %v, want ErrUnexpectedDescription", bad, err)
		}
	}
}

func TestCandidateConversionKeepsOptionalFields(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	c := negotiation.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}

	init := toICECandidate(c)
	if init.SDPMid == nil || *init.SDPMid != "0" || init.SDPMLineIndex == nil || *init.SDPMLineIndex != 1 {
		t.Fatalf("toICECandidate lost fields: %+v", init)
	}
	if init.UsernameFragment != nil {
		t.Error("UsernameFragment should stay unset")
	}
	if got := fromICECandidate(init); got.Candidate != c.Candidate {
		t.Errorf("fromICECandidate = %+v", got)
	}
}

func TestMimeForFourCC(t *testing.T) {
	if mime, err := mimeForFourCC("VP80"); err != nil || mime != webrtc.MimeTypeVP8 {
		t.Errorf("VP80 -> %q, %v", mime, err)
	}
	if _, err := mimeForFourCC("H264"); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("H264 err = %v, want ErrUnsupportedCodec", err)
	}
}

func TestFrameDuration(t *testing.T) {
	if got := frameDuration(1, 30); got != time.Second/30 {
		t.Errorf("frameDuration(1, 30) = %v", got)
	}
	if got := frameDuration(0, 0); got != 33*time.Millisecond {
		t.Errorf("frameDuration(0, 0) = %v", got)
	}
}

func TestPeerOfferWithoutLocalMedia(t *testing.T) {
	p, err := New(Config{DetectRelay: func() bool { return false }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	offer, err := p.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != "offer" || offer.SDP == "" {
		t.Fatalf("offer = %+v", offer)
	}
	if err := p.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	if p.HasRemoteDescription() {
		t.Error("HasRemoteDescription before any remote description")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
