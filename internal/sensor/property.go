package sensor

import "fmt"

// PropertyID names a stream or device property. Values match the wire IDs.
type PropertyID int

// Stream properties.
const (
	StreamPropCropping         PropertyID = 0
	StreamPropHFOV             PropertyID = 1
	StreamPropVFOV             PropertyID = 2
	StreamPropVideoMode        PropertyID = 3
	StreamPropMaxValue         PropertyID = 4
	StreamPropMinValue         PropertyID = 5
	StreamPropStride           PropertyID = 6
	StreamPropMirroring        PropertyID = 7
	StreamPropNumberOfFrames   PropertyID = 8
	StreamPropAutoExposure     PropertyID = 100
	StreamPropAutoWhiteBalance PropertyID = 101
	StreamPropExposure         PropertyID = 102
	StreamPropGain             PropertyID = 103
)

// Device properties.
const (
	DevicePropFirmwareVersion   PropertyID = 0
	DevicePropDriverVersion     PropertyID = 1
	DevicePropHardwareVersion   PropertyID = 2
	DevicePropSerialNumber      PropertyID = 3
	DevicePropErrorState        PropertyID = 4
	DevicePropImageRegistration PropertyID = 5
	DevicePropFrameSync         PropertyID = 7
	DevicePropPlaybackSpeed     PropertyID = 100
	DevicePropPlaybackRepeat    PropertyID = 101
)

// CommandID names a device command.
type CommandID int

const (
	CommandSeek CommandID = 1
)

// SeekRequest is the argument of CommandSeek.
type SeekRequest struct {
	Stream StreamBackend
	Index  int64
}

// Cropping is the value of StreamPropCropping.
type Cropping struct {
	Enabled bool
	Area    CropArea
}

// getAs reads a property through get and asserts its type.
func getAs[T any](op string, id PropertyID, get func(PropertyID) (any, error)) (T, error) {
	var zero T
	v, err := get(id)
	if err != nil {
		return zero, backendError(op, err)
	}
	t, ok := v.(T)
	if !ok {
		return zero, newError(CodeBackend, op, fmt.Sprintf("property %d has type %T, want %T", id, v, zero))
	}
	return t, nil
}
