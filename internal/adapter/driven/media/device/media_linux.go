//go:build linux

package device

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	// Register capture drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

const videoBitRate = 1_500_000

// Devices captures camera, microphone and screen through pion/mediadevices.
// Tracks are VP8 and Opus encoded with the codecs registered on the
// broker's media engine.
type Devices struct {
	selector *mediadevices.CodecSelector
}

func New() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// RegisterCodecs puts the capture codecs on a peer connection media engine.
func (d *Devices) RegisterCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	var out []domain.Device
	for _, info := range mediadevices.EnumerateDevices() {
		if info.DeviceType == driver.Screen {
			continue
		}
		var kind domain.DeviceKind
		switch info.Kind {
		case mediadevices.AudioInput:
			kind = domain.DeviceAudioInput
		case mediadevices.VideoInput:
			kind = domain.DeviceVideoInput
		default:
			continue
		}
		out = append(out, domain.Device{ID: info.DeviceID, Kind: kind, Label: info.Label})
	}
	return out, nil
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.Constraints) (port.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(tc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes poison the VP8 encoder.
			tc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if c.Width > 0 {
				tc.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				tc.Height = prop.Int(c.Height)
			}
			if c.VideoDeviceID != "" {
				tc.DeviceID = prop.String(c.VideoDeviceID)
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(tc *mediadevices.MediaTrackConstraints) {
			if c.AudioDeviceID != "" {
				tc.DeviceID = prop.String(c.AudioDeviceID)
			}
		}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classify(err)
	}
	return wrapStream(ms), nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (port.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(tc *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, classify(err)
	}
	return wrapStream(ms), nil
}

// NewAnalyser reads decoded samples from a separate broadcaster reader, so
// the encoder feeding peers is unaffected.
func (d *Devices) NewAnalyser(t port.Track) (port.AudioAnalyser, error) {
	tr, ok := t.(*track)
	if !ok {
		return nil, fmt.Errorf("%w: foreign track", domain.ErrUnsupported)
	}
	at, ok := tr.src.(*mediadevices.AudioTrack)
	if !ok {
		return nil, fmt.Errorf("%w: not an audio track", domain.ErrUnsupported)
	}
	reader := at.NewReader(true)

	ring := &sampleRing{}
	go func() {
		for !ring.isClosed() {
			chunk, release, err := reader.Read()
			if err != nil {
				log.Debug().Err(err).Str("track_id", tr.ID()).Msg("Analyser reader stopped")
				return
			}
			ring.push(monoSamples(chunk))
			if release != nil {
				release()
			}
		}
	}()
	return ring, nil
}

func wrapStream(ms mediadevices.MediaStream) *stream {
	s := &stream{id: fmt.Sprintf("local-%p", ms)}
	for _, t := range ms.GetTracks() {
		s.tracks = append(s.tracks, newTrack(t))
	}
	return s
}

// track adds the enabled flag mediadevices lacks. A disabled track keeps
// sending, but silence or black frames.
type track struct {
	src  mediadevices.Track
	kind domain.TrackKind

	mu      sync.Mutex
	enabled bool
	ended   bool
	onEnded []func()
}

func newTrack(src mediadevices.Track) *track {
	t := &track{src: src, kind: domain.TrackVideo, enabled: true}
	if src.Kind() == webrtc.RTPCodecTypeAudio {
		t.kind = domain.TrackAudio
	}
	switch s := src.(type) {
	case *mediadevices.AudioTrack:
		s.Transform(t.gateAudio)
	case *mediadevices.VideoTrack:
		s.Transform(t.gateVideo)
	}
	src.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("track_id", src.ID()).Msg("Capture track ended")
		}
		t.end()
	})
	return t
}

func (t *track) ID() string { return t.src.ID() }

func (t *track) Kind() domain.TrackKind { return t.kind }

func (t *track) LocalTrack() webrtc.TrackLocal { return t.src }

func (t *track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *track) Stop() {
	if err := t.src.Close(); err != nil {
		log.Debug().Err(err).Str("track_id", t.ID()).Msg("Track close")
	}
	t.end()
}

func (t *track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *track) OnEnded(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		go fn()
		return
	}
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

func (t *track) end() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fns := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (t *track) gateAudio(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err != nil || t.Enabled() {
			return chunk, release, err
		}
		silence(chunk)
		return chunk, release, nil
	})
}

func (t *track) gateVideo(r video.Reader) video.Reader {
	return video.ReaderFunc(func() (image.Image, func(), error) {
		img, release, err := r.Read()
		if err != nil || t.Enabled() {
			return img, release, err
		}
		blank(img)
		return img, release, nil
	})
}

func silence(chunk wave.Audio) {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		clear(c.Data)
	case *wave.Float32Interleaved:
		clear(c.Data)
	case *wave.Int16NonInterleaved:
		for _, ch := range c.Data {
			clear(ch)
		}
	case *wave.Float32NonInterleaved:
		for _, ch := range c.Data {
			clear(ch)
		}
	}
}

func blank(img image.Image) {
	switch i := img.(type) {
	case *image.YCbCr:
		clear(i.Y)
		for n := range i.Cb {
			i.Cb[n] = 128
		}
		for n := range i.Cr {
			i.Cr[n] = 128
		}
	case *image.RGBA:
		for n := 0; n+3 < len(i.Pix); n += 4 {
			i.Pix[n], i.Pix[n+1], i.Pix[n+2], i.Pix[n+3] = 0, 0, 0, 0xff
		}
	}
}

// monoSamples takes the first channel of a chunk, normalized to [-1, 1].
func monoSamples(chunk wave.Audio) []float64 {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		ch := max(c.Size.Channels, 1)
		out := make([]float64, 0, len(c.Data)/ch)
		for i := 0; i < len(c.Data); i += ch {
			out = append(out, float64(c.Data[i])/32768)
		}
		return out
	case *wave.Float32Interleaved:
		ch := max(c.Size.Channels, 1)
		out := make([]float64, 0, len(c.Data)/ch)
		for i := 0; i < len(c.Data); i += ch {
			out = append(out, float64(c.Data[i]))
		}
		return out
	case *wave.Int16NonInterleaved:
		if len(c.Data) == 0 {
			return nil
		}
		out := make([]float64, len(c.Data[0]))
		for i, v := range c.Data[0] {
			out[i] = float64(v) / 32768
		}
		return out
	case *wave.Float32NonInterleaved:
		if len(c.Data) == 0 {
			return nil
		}
		out := make([]float64, len(c.Data[0]))
		for i, v := range c.Data[0] {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}
