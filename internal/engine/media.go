package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// ErrUnsupportedCodec is returned for IVF files in a codec the engine
// cannot send.
var ErrUnsupportedCodec = errors.New("unsupported codec")

func mimeForFourCC(fourcc string) (string, error) {
	switch fourcc {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("%w: fourcc %q", ErrUnsupportedCodec, fourcc)
	}
}

// frameDuration turns the IVF timebase into a per-frame pacing interval.
func frameDuration(num, den uint32) time.Duration {
	if num == 0 || den == 0 {
		return 33 * time.Millisecond
	}
	return time.Duration(float64(num) / float64(den) * float64(time.Second))
}

// IVFSource streams an IVF file as a local video track, looping at the
// end of the file.
type IVFSource struct {
	path  string
	track *webrtc.TrackLocalStaticSample
}

func OpenIVF(path string) (*IVFSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap("open media", err, path)
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, errs.Wrap("read ivf header", err, path)
	}
	mime, err := mimeForFourCC(header.FourCC)
	if err != nil {
		return nil, errs.Wrap("open media", err, path)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", "livestream")
	if err != nil {
		return nil, errs.New("create local track", err)
	}
	return &IVFSource{path: path, track: track}, nil
}

func (s *IVFSource) Track() webrtc.TrackLocal {
	return s.track
}

// Run writes frames until ctx ends or the file cannot be read.
func (s *IVFSource) Run(ctx context.Context) error {
	log := logging.Component("media")
	for {
		if err := s.playOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Debug("media looped", "path", s.path)
	}
}

func (s *IVFSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return errs.Wrap("open media", err, s.path)
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return errs.Wrap("read ivf header", err, s.path)
	}
	interval := frameDuration(header.TimebaseNumerator, header.TimebaseDenominator)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errs.Wrap("read frame", err, s.path)
		}
		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: interval}); err != nil {
			return errs.New("write sample", err)
		}
	}
}

// RecordIVF copies RTP from a remote video track into an IVF file until
// the track ends.
func RecordIVF(track *webrtc.TrackRemote, path string) error {
	w, err := ivfwriter.New(path, ivfwriter.WithCodec(track.Codec().MimeType))
	if err != nil {
		return errs.Wrap("create recording", err, path)
	}
	defer w.Close()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errs.New("read rtp", err)
		}
		if err := w.WriteRTP(pkt); err != nil {
			return errs.Wrap("write recording", err, path)
		}
	}
}
