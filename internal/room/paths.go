package room

import "github.com/BioHazard786/livestream/internal/store"

// Paths names every store location of one room under <namespace>/rooms/<id>.
type Paths struct {
	Namespace string
	Room      string
}

func NewPaths(namespace, id string) Paths {
	return Paths{Namespace: namespace, Room: id}
}

func (p Paths) Root() string             { return store.Join(p.Namespace, "rooms", p.Room) }
func (p Paths) Offer() string            { return store.Join(p.Root(), "offer") }
func (p Paths) Answer() string           { return store.Join(p.Root(), "answer") }
func (p Paths) CallerCandidates() string { return store.Join(p.Root(), "callerCandidates") }
func (p Paths) CalleeCandidates() string { return store.Join(p.Root(), "calleeCandidates") }
func (p Paths) Participants() string     { return store.Join(p.Root(), "participants") }

func (p Paths) Participant(id string) string {
	return store.Join(p.Participants(), id)
}
