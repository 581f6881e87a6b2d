package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

const (
	silenceDB       = -60.0
	agcTargetDB     = -20.0
	agcMaxGainDB    = 20.0
	minRMS          = 1e-5
	clipPeak        = 0.95
	lowLevel        = 0.01
	gateOffsetDB    = 3.0
	frameSize       = 256
	meterInterval   = time.Second / 60
	calibrateStep   = 100 * time.Millisecond
	calibrateFrames = 20
)

// MicSource is where the monitor finds the live microphone.
type MicSource interface {
	MicrophoneTrack() port.Track
	State() domain.LocalMediaState
}

// MicMonitor measures microphone loudness on its own analyser tap. Nothing
// it does changes the audio peers receive.
type MicMonitor struct {
	devices port.MediaDevices
	source  MicSource
	clock   clock.Clock

	mu       sync.Mutex
	settings domain.AudioSettings
	quality  domain.AudioQuality
	analyser port.AudioAnalyser
	test     port.LocalStream
	live     port.Track
	stop     chan struct{}
}

func NewMicMonitor(devices port.MediaDevices, source MicSource, clk clock.Clock) *MicMonitor {
	return &MicMonitor{
		devices:  devices,
		source:   source,
		clock:    clk,
		settings: domain.DefaultAudioSettings(),
	}
}

// Start monitors the microphone track of the local media.
func (m *MicMonitor) Start() error {
	track := m.source.MicrophoneTrack()
	if track == nil {
		return domain.ErrNoLocalMedia
	}
	a, err := m.devices.NewAnalyser(track)
	if err != nil {
		return fmt.Errorf("mic analyser: %w", err)
	}
	m.run(a, nil, track)
	log.Info().Str("track_id", track.ID()).Msg("Microphone monitoring started")
	return nil
}

// Follow keeps live monitoring on the current microphone after the local
// media changes. It does nothing unless Start is in effect.
func (m *MicMonitor) Follow() {
	m.mu.Lock()
	live := m.live
	m.mu.Unlock()
	if live == nil {
		return
	}

	track := m.source.MicrophoneTrack()
	switch {
	case track == live && !live.Ended():
		return
	case track == nil || track.Ended():
		m.Stop()
	default:
		if err := m.Start(); err != nil {
			log.Warn().Err(err).Msg("Mic monitor could not follow the new microphone")
		}
	}
}

// StartTest monitors a dedicated capture of the selected microphone, so the
// meter works before any call media exists.
func (m *MicMonitor) StartTest(ctx context.Context) error {
	stream, a, err := m.tap(ctx)
	if err != nil {
		return err
	}
	m.run(a, stream, nil)
	log.Info().Msg("Microphone test started")
	return nil
}

func (m *MicMonitor) tap(ctx context.Context) (port.LocalStream, port.AudioAnalyser, error) {
	stream, err := m.devices.GetUserMedia(ctx, domain.Constraints{
		Audio:         true,
		AudioDeviceID: m.source.State().Selection.AudioDeviceID,
	})
	if err != nil {
		return nil, nil, domain.NewDeviceError(err)
	}
	track := firstTrack(stream, domain.TrackAudio)
	if track == nil {
		stopStream(stream)
		return nil, nil, domain.NewDeviceError(domain.ErrDeviceUnavailable)
	}
	a, err := m.devices.NewAnalyser(track)
	if err != nil {
		stopStream(stream)
		return nil, nil, fmt.Errorf("mic analyser: %w", err)
	}
	return stream, a, nil
}

func (m *MicMonitor) run(a port.AudioAnalyser, test port.LocalStream, live port.Track) {
	m.Stop()

	stop := make(chan struct{})
	m.mu.Lock()
	m.analyser, m.test, m.live, m.stop = a, test, live, stop
	m.mu.Unlock()

	t := m.clock.Ticker(meterInterval)
	go func() {
		defer t.Stop()
		buf := make([]float64, frameSize)
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				n, err := a.Read(buf)
				if err != nil {
					log.Debug().Err(err).Msg("Mic analyser read")
					continue
				}
				m.mu.Lock()
				if m.stop == stop {
					m.quality = analyseFrame(buf[:n], m.quality.SmoothedLevel, m.settings)
				}
				m.mu.Unlock()
			}
		}
	}()
}

// Live reports whether the meter taps the microphone sent to peers.
func (m *MicMonitor) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live != nil
}

// Stop ends monitoring or a mic test and resets the meter.
func (m *MicMonitor) Stop() {
	m.mu.Lock()
	a, test, stop := m.analyser, m.test, m.stop
	m.analyser, m.test, m.live, m.stop = nil, nil, nil, nil
	m.quality = domain.AudioQuality{}
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if a != nil {
		if err := a.Close(); err != nil {
			log.Debug().Err(err).Msg("Mic analyser close")
		}
	}
	stopStream(test)
}

func (m *MicMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

func (m *MicMonitor) Quality() domain.AudioQuality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

func (m *MicMonitor) Settings() domain.AudioSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *MicMonitor) UpdateSettings(st domain.AudioSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = st
}

// Calibrate samples ambient loudness for two seconds and moves the noise
// gate just above the measured floor.
func (m *MicMonitor) Calibrate(ctx context.Context) (domain.AudioSettings, error) {
	stream, a, err := m.tap(ctx)
	if err != nil {
		return domain.AudioSettings{}, err
	}
	defer stopStream(stream)
	defer a.Close()

	buf := make([]float64, frameSize)
	samples := make([]float64, 0, calibrateFrames)
	for i := 0; i < calibrateFrames; i++ {
		t := m.clock.Timer(calibrateStep)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.AudioSettings{}, ctx.Err()
		case <-t.C:
		}
		n, err := a.Read(buf)
		if err != nil {
			return domain.AudioSettings{}, fmt.Errorf("calibration read: %w", err)
		}
		db, _ := rmsDB(buf[:n])
		samples = append(samples, db)
	}

	floor := noiseFloor(samples)
	m.mu.Lock()
	m.settings.NoiseFloor = floor
	m.settings.NoiseGateThreshold = floor + gateOffsetDB
	st := m.settings
	m.mu.Unlock()

	log.Info().Float64("noise_floor", floor).Float64("gate", st.NoiseGateThreshold).Msg("Noise floor calibrated")
	return st, nil
}

// rmsDB returns the frame loudness in dBFS, floored at silenceDB, and the
// peak absolute sample.
func rmsDB(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return silenceDB, 0
	}
	var sum, peak float64
	for _, v := range samples {
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= minRMS {
		return silenceDB, peak
	}
	return math.Max(silenceDB, 20*math.Log10(rms)), peak
}

func analyseFrame(samples []float64, smoothed float64, st domain.AudioSettings) domain.AudioQuality {
	db, peak := rmsDB(samples)

	gated := db
	if gated < st.NoiseGateThreshold {
		gated = silenceDB
	}
	processed := gated
	// Gated frames stay silent; boosting them would read as speech.
	if st.AutoGainControl && gated > silenceDB {
		processed += clamp(agcTargetDB-gated, 0, agcMaxGainDB)
	}

	level := clamp((processed-silenceDB)/-silenceDB, 0, 1)
	smoothed += st.SmoothingFactor * (level - smoothed)

	q := domain.AudioQuality{
		Level:         level,
		SmoothedLevel: smoothed,
		Clipping:      peak > clipPeak,
		LowLevel:      smoothed < lowLevel,
		VoiceActivity: smoothed > st.VoiceActivityThreshold,
	}
	if db > silenceDB {
		q.SignalToNoise = db - st.NoiseFloor
	}
	return q
}

// noiseFloor is the 90th percentile of the sampled levels.
func noiseFloor(samples []float64) float64 {
	if len(samples) == 0 {
		return silenceDB
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	i := int(math.Floor(float64(len(sorted)) * 0.9))
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
