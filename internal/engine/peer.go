// Package engine is the pion-backed transport engine a session drives.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/livestream/internal/config"
	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/logging"
	"github.com/BioHazard786/livestream/internal/negotiation"
	"github.com/BioHazard786/livestream/internal/session"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Config holds the ICE setup for one peer connection.
type Config struct {
	STUN       []string
	TURN       []string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// DetectRelay is consulted when ForceRelay is off. Nil means
	// ShouldForceRelay.
	DetectRelay func() bool
}

func ConfigFrom(c *config.Config) Config {
	user, pass := c.GetTURNCredentials()
	return Config{
		STUN:       c.GetSTUNServers(),
		TURN:       c.GetTURNServers(),
		TURNUser:   user,
		TURNPass:   pass,
		ForceRelay: c.ForceRelay,
	}
}

func (c Config) iceServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.STUN) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUN})
	}
	if len(c.TURN) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURN,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// transportPolicy only restricts to relays when there is a relay to use.
func (c Config) transportPolicy() webrtc.ICETransportPolicy {
	if len(c.TURN) == 0 {
		return webrtc.ICETransportPolicyAll
	}
	detect := c.DetectRelay
	if detect == nil {
		detect = ShouldForceRelay
	}
	if c.ForceRelay || detect() {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

// Peer wraps a pion PeerConnection.
type Peer struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu          sync.Mutex
	onCandidate func(*negotiation.Candidate)
	onTrack     func(session.RemoteTrack)
	onConn      func(session.ConnectionState)
	closed      bool
}

// New creates a peer connection with the default codecs and interceptors.
func New(cfg Config) (*Peer, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errs.New("register codecs", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, errs.New("register interceptors", err)
	}
	se := webrtc.SettingEngine{}
	se.LoggerFactory = logging.NewPionFactory()

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)

	policy := cfg.transportPolicy()
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         cfg.iceServers(),
		ICETransportPolicy: policy,
		BundlePolicy:       webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, errs.New("create peer connection", err)
	}

	p := &Peer{pc: pc, log: logging.Component("engine")}
	p.log.Debug("peer connection created", "relay_only", policy == webrtc.ICETransportPolicyRelay)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		p.mu.Lock()
		fn := p.onCandidate
		p.mu.Unlock()
		if fn == nil {
			return
		}
		if c == nil {
			p.log.Debug("ICE gathering complete")
			fn(nil)
			return
		}
		cand := fromICECandidate(c.ToJSON())
		fn(&cand)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		p.mu.Lock()
		fn := p.onTrack
		p.mu.Unlock()
		if fn != nil {
			fn(session.RemoteTrack{
				ID:       track.ID(),
				StreamID: track.StreamID(),
				Kind:     track.Kind().String(),
				Codec:    track.Codec().MimeType,
				Source:   track,
			})
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state", "state", state.String())
		p.mu.Lock()
		fn := p.onConn
		p.mu.Unlock()
		if fn != nil {
			fn(session.ConnectionState(state.String()))
		}
	})
	return p, nil
}

// AddTrack sends local media. Call it before the offer or answer is made.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return errs.New("add track", err)
	}
	// RTCP has to be read for the interceptors to run
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *Peer) CreateOffer() (negotiation.Description, error) {
	if len(p.pc.GetTransceivers()) == 0 {
		// nothing to send: ask for the remote side's media
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return negotiation.Description{}, errs.New("add transceiver", err)
			}
		}
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return negotiation.Description{}, errs.New("create offer", err)
	}
	return fromSessionDescription(offer), nil
}

func (p *Peer) CreateAnswer() (negotiation.Description, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return negotiation.Description{}, errs.New("create answer", err)
	}
	return fromSessionDescription(answer), nil
}

func (p *Peer) SetLocalDescription(d negotiation.Description) error {
	sd, err := toSessionDescription(d)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(sd); err != nil {
		return errs.New("set local description", err)
	}
	return nil
}

func (p *Peer) SetRemoteDescription(d negotiation.Description) error {
	sd, err := toSessionDescription(d)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return errs.New("set remote description", err)
	}
	return nil
}

func (p *Peer) AddRemoteCandidate(c negotiation.Candidate) error {
	if err := p.pc.AddICECandidate(toICECandidate(c)); err != nil {
		return errs.New("add remote candidate", err)
	}
	return nil
}

func (p *Peer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *Peer) OnLocalCandidate(fn func(*negotiation.Candidate)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *Peer) OnRemoteTrack(fn func(session.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *Peer) OnConnectionStateChange(fn func(session.ConnectionState)) {
	p.mu.Lock()
	p.onConn = fn
	p.mu.Unlock()
}

// Close tears down the peer connection. Calling it twice is fine.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.onCandidate, p.onTrack, p.onConn = nil, nil, nil
	p.mu.Unlock()
	return p.pc.Close()
}

func fromSessionDescription(sd webrtc.SessionDescription) negotiation.Description {
	return negotiation.Description{Type: sd.Type.String(), SDP: sd.SDP}
}

func toSessionDescription(d negotiation.Description) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t != webrtc.SDPTypeOffer && t != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, errs.Wrap("convert description", errs.ErrUnexpectedDescription,
			fmt.Sprintf("type %q", d.Type))
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func fromICECandidate(c webrtc.ICECandidateInit) negotiation.Candidate {
	return negotiation.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func toICECandidate(c negotiation.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

var _ session.Engine = (*Peer)(nil)
