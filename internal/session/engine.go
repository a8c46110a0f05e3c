package session

import "github.com/BioHazard786/livestream/internal/negotiation"

// ConnectionState mirrors the transport engine's peer connection state.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// RemoteTrack describes incoming media. Source is the engine's own track
// object.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	Codec    string
	Source   any
}

// Engine is the transport engine a session drives.
type Engine interface {
	negotiation.Engine

	// OnLocalCandidate receives nil once gathering is complete.
	OnLocalCandidate(func(*negotiation.Candidate))
	OnRemoteTrack(func(RemoteTrack))
	OnConnectionStateChange(func(ConnectionState))
	Close() error
}

type EngineFactory func() (Engine, error)
