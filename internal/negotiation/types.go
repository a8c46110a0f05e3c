// Package negotiation drives the offer/answer and candidate exchange
// between two peers through the signaling store.
package negotiation

import "github.com/BioHazard786/livestream/internal/room"

// Description is an opaque session description as stored in the offer and
// answer slots.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one reachability option, stored in a role's candidate log.
// An empty Candidate string marks the end of gathering.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (c Candidate) IsEndOfCandidates() bool {
	return c.Candidate == ""
}

// Engine is the part of the transport engine the state machine drives.
type Engine interface {
	CreateOffer() (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error
	AddRemoteCandidate(Candidate) error
	// HasRemoteDescription is the only guard against applying a replayed
	// offer or answer twice.
	HasRemoteDescription() bool
}

type Role int

const (
	Initiator Role = iota
	Joiner
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Joiner:
		return "joiner"
	default:
		return "unknown"
	}
}

// LocalType is the description type this role publishes.
func (r Role) LocalType() string {
	if r == Initiator {
		return "offer"
	}
	return "answer"
}

// RemoteType is the description type this role waits for.
func (r Role) RemoteType() string {
	if r == Initiator {
		return "answer"
	}
	return "offer"
}

func (r Role) localSlot(p room.Paths) string {
	if r == Initiator {
		return p.Offer()
	}
	return p.Answer()
}

func (r Role) remoteSlot(p room.Paths) string {
	if r == Initiator {
		return p.Answer()
	}
	return p.Offer()
}

func (r Role) localLog(p room.Paths) string {
	if r == Initiator {
		return p.CallerCandidates()
	}
	return p.CalleeCandidates()
}

func (r Role) remoteLog(p room.Paths) string {
	if r == Initiator {
		return p.CalleeCandidates()
	}
	return p.CallerCandidates()
}

type State int

const (
	Idle State = iota
	LocalDescriptionSet
	RemoteDescriptionSet
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LocalDescriptionSet:
		return "local-description-set"
	case RemoteDescriptionSet:
		return "remote-description-set"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
