package service

import (
	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/google/uuid"
)

// compositeStream groups tracks owned by other streams, e.g. a screen video
// track with the microphone track of the camera stream.
type compositeStream struct {
	id     string
	tracks []port.Track
}

func NewCompositeStream(tracks ...port.Track) port.LocalStream {
	out := make([]port.Track, 0, len(tracks))
	for _, t := range tracks {
		if t != nil {
			out = append(out, t)
		}
	}
	return &compositeStream{id: uuid.New().String(), tracks: out}
}

func (c *compositeStream) ID() string { return c.id }

func (c *compositeStream) Tracks() []port.Track { return c.tracks }

func (c *compositeStream) AudioTracks() []port.Track { return tracksOf(c.tracks, domain.TrackAudio) }

func (c *compositeStream) VideoTracks() []port.Track { return tracksOf(c.tracks, domain.TrackVideo) }

func tracksOf(tracks []port.Track, kind domain.TrackKind) []port.Track {
	var out []port.Track
	for _, t := range tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func firstTrack(s port.LocalStream, kind domain.TrackKind) port.Track {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func stopStream(s port.LocalStream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
