package device

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
)

const ringSize = 2048

type stream struct {
	id     string
	tracks []port.Track
}

func (s *stream) ID() string { return s.id }

func (s *stream) Tracks() []port.Track { return s.tracks }

func (s *stream) AudioTracks() []port.Track { return s.ofKind(domain.TrackAudio) }

func (s *stream) VideoTracks() []port.Track { return s.ofKind(domain.TrackVideo) }

func (s *stream) ofKind(kind domain.TrackKind) []port.Track {
	var out []port.Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// sampleRing keeps the most recent mono samples pushed by a capture reader.
type sampleRing struct {
	mu     sync.Mutex
	buf    [ringSize]float64
	next   int
	filled int
	closed bool
}

func (r *sampleRing) push(samples []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range samples {
		r.buf[r.next] = v
		r.next = (r.next + 1) % ringSize
		if r.filled < ringSize {
			r.filled++
		}
	}
}

// Read copies the latest window into dst, oldest first.
func (r *sampleRing) Read(dst []float64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errAnalyserClosed
	}
	n := min(len(dst), r.filled)
	start := (r.next - n + ringSize) % ringSize
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(start+i)%ringSize]
	}
	return n, nil
}

func (r *sampleRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *sampleRing) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var errAnalyserClosed = errors.New("analyser closed")

// classify maps driver errors onto the domain's device sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", domain.ErrDeviceBusy, err)
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
}
