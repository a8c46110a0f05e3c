// Package room manages room records and participant presence in the
// signaling store.
package room

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/store"
)

// Registry creates, joins and tears down rooms. It keeps no per-room
// state; everything lives in the store.
type Registry struct {
	store     store.Store
	namespace string
	log       *slog.Logger
}

func NewRegistry(s store.Store, namespace string) *Registry {
	return &Registry{
		store:     s,
		namespace: namespace,
		log:       slog.Default().With("component", "room"),
	}
}

func (r *Registry) Paths(id string) Paths {
	return NewPaths(r.namespace, id)
}

// CreateRoom picks a fresh room id and registers the initiator in it. The
// rest of the room appears once the offer is written.
func (r *Registry) CreateRoom(ctx context.Context, participant string) (string, error) {
	id := NewID()
	if err := r.RegisterPresence(ctx, id, participant); err != nil {
		return "", err
	}
	r.log.Info("room created", "room", id, "participant", participant)
	return id, nil
}

// JoinRoom registers the joiner in room id. The room is not looked up
// first: a missing offer shows up later as a stalled negotiation.
func (r *Registry) JoinRoom(ctx context.Context, id, participant string) error {
	id, err := ParseID(id)
	if err != nil {
		return err
	}
	if err := r.RegisterPresence(ctx, id, participant); err != nil {
		return err
	}
	r.log.Info("room joined", "room", id, "participant", participant)
	return nil
}

// RegisterPresence writes the participant marker, then asks the store to
// drop it if this connection dies.
func (r *Registry) RegisterPresence(ctx context.Context, id, participant string) error {
	path := r.Paths(id).Participant(participant)
	if err := r.store.Set(ctx, path, true); err != nil {
		return errs.ForRoom("register presence", id, err)
	}
	if err := r.store.OnDisconnectRemove(ctx, path); err != nil {
		return errs.ForRoom("arm presence removal", id, err)
	}
	return nil
}

// Leave removes the participant and deletes the room when nobody is left.
// It never fails hard: errors are logged and returned for diagnostics
// only. Calling it again is harmless.
func (r *Registry) Leave(ctx context.Context, id, participant string) error {
	var errList []error
	if err := r.store.Remove(ctx, r.Paths(id).Participant(participant)); err != nil {
		r.log.Warn("remove participant failed", "room", id, "participant", participant, "error", err)
		errList = append(errList, errs.ForRoom("remove participant", id, err))
	}
	if _, err := r.DeleteRoomIfEmpty(ctx, id); err != nil {
		r.log.Warn("room cleanup failed", "room", id, "error", err)
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

// DeleteRoomIfEmpty removes the whole room subtree once its participant
// set is empty. Both explicit leaves and disconnect-driven removals end
// up here; deleting twice is fine.
func (r *Registry) DeleteRoomIfEmpty(ctx context.Context, id string) (bool, error) {
	paths := r.Paths(id)
	snap, err := r.store.Get(ctx, paths.Participants())
	if err != nil {
		return false, errs.ForRoom("read participants", id, err)
	}
	if snap.Exists() {
		r.log.Debug("room still occupied", "room", id, "participants", snap.Len())
		return false, nil
	}
	if err := r.store.Remove(ctx, paths.Root()); err != nil {
		return false, errs.ForRoom("delete room", id, err)
	}
	r.log.Info("room deleted", "room", id)
	return true, nil
}

// Status summarizes a room's slots.
type Status struct {
	ID               string
	Exists           bool
	HasOffer         bool
	HasAnswer        bool
	CallerCandidates int
	CalleeCandidates int
	Participants     []string
}

func (r *Registry) Inspect(ctx context.Context, id string) (Status, error) {
	id, err := ParseID(id)
	if err != nil {
		return Status{}, err
	}
	snap, err := r.store.Get(ctx, r.Paths(id).Root())
	if err != nil {
		return Status{}, errs.ForRoom("inspect room", id, err)
	}
	st := Status{ID: id, Exists: snap.Exists()}
	if c, ok := snap.Child("offer"); ok && c.Exists() {
		st.HasOffer = true
	}
	if c, ok := snap.Child("answer"); ok && c.Exists() {
		st.HasAnswer = true
	}
	if c, ok := snap.Child("callerCandidates"); ok {
		st.CallerCandidates = c.Len()
	}
	if c, ok := snap.Child("calleeCandidates"); ok {
		st.CalleeCandidates = c.Len()
	}
	if c, ok := snap.Child("participants"); ok {
		st.Participants = c.Keys()
	}
	return st, nil
}
