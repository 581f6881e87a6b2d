package domain

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type VideoSource string

const (
	SourceCamera VideoSource = "camera"
	SourceScreen VideoSource = "screen"
)

type DeviceKind string

const (
	DeviceAudioInput DeviceKind = "audioinput"
	DeviceVideoInput DeviceKind = "videoinput"
)

type Device struct {
	ID    string     `json:"id"`
	Kind  DeviceKind `json:"kind"`
	Label string     `json:"label"`
}

type DeviceSelection struct {
	AudioDeviceID string `json:"audio_device_id,omitempty"`
	VideoDeviceID string `json:"video_device_id,omitempty"`
}

// Constraints describe one capture request. Zero Width/Height leave the
// resolution to the driver.
type Constraints struct {
	Audio         bool
	Video         bool
	AudioDeviceID string
	VideoDeviceID string
	Width         int
	Height        int
}

type LocalMediaState struct {
	HasCamera         bool            `json:"has_camera"`
	HasMicrophone     bool            `json:"has_microphone"`
	IsMuted           bool            `json:"is_muted"`
	IsCameraOff       bool            `json:"is_camera_off"`
	ActiveVideoSource VideoSource     `json:"active_video_source"`
	Selection         DeviceSelection `json:"selection"`
}

type AudioQuality struct {
	Level         float64 `json:"level"`
	SmoothedLevel float64 `json:"smoothed_level"`
	SignalToNoise float64 `json:"signal_to_noise"`
	Clipping      bool    `json:"clipping"`
	LowLevel      bool    `json:"low_level"`
	VoiceActivity bool    `json:"voice_activity"`
}

type AudioSettings struct {
	NoiseFloor             float64 `json:"noise_floor"`
	NoiseGateThreshold     float64 `json:"noise_gate_threshold"`
	AutoGainControl        bool    `json:"auto_gain_control"`
	SmoothingFactor        float64 `json:"smoothing_factor"`
	VoiceActivityThreshold float64 `json:"voice_activity_threshold"`
}

func DefaultAudioSettings() AudioSettings {
	return AudioSettings{
		NoiseFloor:             -60,
		NoiseGateThreshold:     -50,
		AutoGainControl:        true,
		SmoothingFactor:        0.8,
		VoiceActivityThreshold: 0.3,
	}
}
