package sensor

import "fmt"

// Playback speeds with special meaning.
const (
	SpeedFastest = 0.0
	SpeedManual  = -1.0
)

// PlaybackControl governs a device that replays a recording.
type PlaybackControl struct {
	dev *Device
}

// Speed returns the playback speed ratio.
func (p *PlaybackControl) Speed() (float64, error) {
	return getAs[float64]("playback speed", DevicePropPlaybackSpeed, p.dev.GetProperty)
}

// SetSpeed sets the speed ratio. SpeedFastest plays without pauses,
// SpeedManual produces one frame per read or wait, and positive values scale
// real time.
func (p *PlaybackControl) SetSpeed(ratio float64) error {
	if ratio < 0 && ratio != SpeedManual {
		return newError(CodeInvalidArgument, "set playback speed", fmt.Sprintf("invalid speed %v", ratio))
	}
	return p.dev.SetProperty(DevicePropPlaybackSpeed, ratio)
}

// RepeatEnabled reports whether playback restarts at the end of the file.
func (p *PlaybackControl) RepeatEnabled() (bool, error) {
	return getAs[bool]("playback repeat", DevicePropPlaybackRepeat, p.dev.GetProperty)
}

func (p *PlaybackControl) SetRepeatEnabled(enabled bool) error {
	return p.dev.SetProperty(DevicePropPlaybackRepeat, enabled)
}

// Seek moves every stream of the device to the moment of frame index on s.
func (p *PlaybackControl) Seek(s *Stream, index int64) error {
	const op = "seek"
	if s == nil || s.device != p.dev {
		return newError(CodeInvalidArgument, op, "stream does not belong to this recording")
	}
	if !p.dev.backend.IsCommandSupported(CommandSeek) {
		return newError(CodeUnsupported, op, "device cannot seek")
	}
	if err := p.dev.backend.Invoke(CommandSeek, SeekRequest{Stream: s.backend, Index: index}); err != nil {
		return backendError(op, err)
	}
	return nil
}

// NumberOfFrames returns how many frames s has in the recording, or 0 if s
// is not part of it.
func (p *PlaybackControl) NumberOfFrames(s *Stream) (int, error) {
	if s == nil || s.device != p.dev {
		return 0, nil
	}
	if !s.backend.IsPropertySupported(StreamPropNumberOfFrames) {
		return 0, nil
	}
	return getAs[int]("number of frames", StreamPropNumberOfFrames, s.GetProperty)
}
