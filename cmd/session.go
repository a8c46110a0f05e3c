package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/livestream/internal/config"
	"github.com/BioHazard786/livestream/internal/dns"
	"github.com/BioHazard786/livestream/internal/engine"
	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/logging"
	"github.com/BioHazard786/livestream/internal/negotiation"
	"github.com/BioHazard786/livestream/internal/session"
	"github.com/BioHazard786/livestream/internal/store"
	"github.com/BioHazard786/livestream/internal/store/mqttstore"
	"github.com/BioHazard786/livestream/internal/store/wsstore"
	"github.com/BioHazard786/livestream/internal/ui"
	"github.com/atotto/clipboard"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

// liveOptions are the flags create and join share.
type liveOptions struct {
	media        string
	record       string
	copyID       bool
	stallTimeout time.Duration
}

func addLiveFlags(cmd *cobra.Command, o *liveOptions) {
	cmd.Flags().StringVarP(&o.media, "media", "m", "", "VP8/VP9/AV1 IVF file to stream as local video")
	cmd.Flags().StringVar(&o.record, "record", "", "Record the remote video track to this IVF file")
	cmd.Flags().DurationVar(&o.stallTimeout, "stall-timeout", 0, "Give up if no peer answered within this time (0 waits forever)")
}

func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Domain:     flagDomain,
		Backend:    flagBackend,
		StoreURL:   flagStore,
		Broker:     flagBroker,
		Namespace:  flagNamespace,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return nil, errs.New("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// openStore connects to the configured signaling store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	sp := ui.NewConnectionSpinner("Connecting to signaling store...")
	sp.Start()
	defer sp.Stop()

	switch cfg.Backend {
	case config.BackendMQTT:
		c, err := mqttstore.Connect(ctx, mqttstore.Options{Broker: cfg.Broker})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		c, err := wsstore.Dial(ctx, cfg.StoreURL, wsstore.WithResolver(dns.NewResolver()))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newEngineFactory(cfg *config.Config, src *engine.IVFSource) session.EngineFactory {
	ecfg := engine.ConfigFrom(cfg)
	return func() (session.Engine, error) {
		p, err := engine.New(ecfg)
		if err != nil {
			return nil, err
		}
		if src != nil {
			if err := p.AddTrack(src.Track()); err != nil {
				p.Close()
				return nil, err
			}
		}
		return p, nil
	}
}

// liveView collects session events into the status shown on screen.
type liveView struct {
	h  *session.Handle
	ui *ui.StatusUI

	mu      sync.Mutex
	tracks  []string
	lastErr string
}

func (v *liveView) addTrack(t session.RemoteTrack) {
	v.mu.Lock()
	v.tracks = append(v.tracks, fmt.Sprintf("%s %s", t.Kind, t.Codec))
	v.mu.Unlock()
	v.refresh()
}

func (v *liveView) setError(err error) {
	v.mu.Lock()
	v.lastErr = err.Error()
	v.mu.Unlock()
	v.refresh()
}

func (v *liveView) refresh() {
	st := v.h.Stats()
	v.mu.Lock()
	status := ui.Status{
		Negotiation: v.h.State().String(),
		Connection:  string(v.h.ConnectionState()),
		Sent:        st.Sent,
		Received:    st.Received,
		Applied:     st.Applied,
		Tracks:      append([]string(nil), v.tracks...),
		LastError:   v.lastErr,
	}
	v.mu.Unlock()
	v.ui.Set(status)
}

// runLive creates (roomID == "") or joins a room and keeps the session up
// until the user leaves or the context ends. It gives up early when the
// negotiation stalls or the store connection drops before the peer
// answered.
func runLive(ctx context.Context, role negotiation.Role, roomID string, opts liveOptions) error {
	log := logging.Component("cli")

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	var src *engine.IVFSource
	if opts.media != "" {
		if src, err = engine.OpenIVF(opts.media); err != nil {
			return err
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	deps := session.Deps{
		Store:     st,
		Namespace: cfg.Namespace,
		NewEngine: newEngineFactory(cfg, src),
	}

	var h *session.Handle
	if role == negotiation.Initiator {
		h, err = session.Create(ctx, deps)
	} else {
		h, err = session.Join(ctx, deps, roomID)
	}
	if err != nil {
		return err
	}

	if role == negotiation.Initiator {
		info := ui.RoomInfo{RoomID: h.RoomID(), RoomLink: cfg.GetRoomLink(h.RoomID())}
		if opts.copyID {
			if err := clipboard.WriteAll(h.RoomID()); err != nil {
				ui.PrintWarningf("Could not copy room ID: %v", err)
			} else {
				info.Copied = true
			}
		}
		fmt.Println()
		fmt.Println(info.View())
	}

	title := fmt.Sprintf("%s room %s", role, h.RoomID())
	status := ui.NewStatusUI(title)
	view := &liveView{h: h, ui: status}

	mediaCtx, cancelMedia := context.WithCancel(ctx)
	defer cancelMedia()
	if src != nil {
		go func() {
			if err := src.Run(mediaCtx); err != nil {
				view.setError(err)
			}
		}()
	}

	h.OnStateChanged(func(negotiation.State) { view.refresh() })
	h.OnConnectionStateChanged(func(session.ConnectionState) { view.refresh() })
	h.OnLocalCandidate(func(negotiation.Candidate) { view.refresh() })
	h.OnError(view.setError)
	h.OnRemoteTrack(func(t session.RemoteTrack) {
		view.addTrack(t)
		track, ok := t.Source.(*webrtc.TrackRemote)
		if !ok || opts.record == "" || track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		go func() {
			log.Info("recording remote video", "path", opts.record)
			if err := engine.RecordIVF(track, opts.record); err != nil {
				view.setError(err)
			}
		}()
	})

	status.Start()
	view.refresh()

	stalled := make(chan error, 1)
	if opts.stallTimeout > 0 {
		go func() {
			wctx, cancel := context.WithTimeout(ctx, opts.stallTimeout)
			defer cancel()
			if err := h.WaitReady(wctx); errors.Is(err, errs.ErrNegotiationStalled) && ctx.Err() == nil {
				stalled <- err
			}
		}()
	}

	// a nil channel never fires for stores that cannot drop
	var storeDone <-chan struct{}
	monitor, monitored := st.(store.Monitor)
	if monitored {
		storeDone = monitor.Done()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-status.Leave():
			break loop
		case runErr = <-stalled:
			break loop
		case <-storeDone:
			storeDone = nil
			// once negotiated, media keeps flowing without the store
			if err := monitor.Err(); err != nil && h.State() != negotiation.RemoteDescriptionSet {
				runErr = err
				break loop
			}
		case <-ticker.C:
			view.refresh()
		}
	}

	status.Stop()
	cancelMedia()
	if err := h.Close(); err != nil {
		log.Warn("leave room", "error", err)
	}

	stats := h.Stats()
	fmt.Println()
	ui.RenderSessionSummary(ui.SessionSummary{
		RoomID:     h.RoomID(),
		Role:       role.String(),
		State:      h.State().String(),
		Connection: string(h.ConnectionState()),
		Sent:       stats.Sent,
		Received:   stats.Received,
		Applied:    stats.Applied,
		Duration:   time.Since(h.Started()),
	})
	return runErr
}
