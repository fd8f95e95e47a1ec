package sensor

import "fmt"

// PixelFormat identifies how a frame's bytes encode pixels. The numeric
// values are stable wire codes.
type PixelFormat int

const (
	PixelFormatDepth1MM   PixelFormat = 100
	PixelFormatDepth100UM PixelFormat = 101
	PixelFormatShift9_2   PixelFormat = 102
	PixelFormatShift9_3   PixelFormat = 103

	PixelFormatRGB888 PixelFormat = 200
	PixelFormatYUV422 PixelFormat = 201
	PixelFormatGray8  PixelFormat = 202
	PixelFormatGray16 PixelFormat = 203
	PixelFormatJPEG   PixelFormat = 204
	PixelFormatYUYV   PixelFormat = 205
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatDepth1MM:   "DEPTH_1_MM",
	PixelFormatDepth100UM: "DEPTH_100_UM",
	PixelFormatShift9_2:   "SHIFT_9_2",
	PixelFormatShift9_3:   "SHIFT_9_3",
	PixelFormatRGB888:     "RGB888",
	PixelFormatYUV422:     "YUV422",
	PixelFormatGray8:      "GRAY8",
	PixelFormatGray16:     "GRAY16",
	PixelFormatJPEG:       "JPEG",
	PixelFormatYUYV:       "YUYV",
}

// PixelFormatFromCode decodes a wire code. Unknown codes fail with
// ErrUnknownFormat.
func PixelFormatFromCode(code int) (PixelFormat, error) {
	f := PixelFormat(code)
	if _, ok := pixelFormatNames[f]; !ok {
		return 0, newError(CodeUnknownFormat, "pixel format", fmt.Sprintf("unknown pixel format code %d", code))
	}
	return f, nil
}

// ParsePixelFormat looks a format up by its name, e.g. "DEPTH_1_MM".
func ParsePixelFormat(name string) (PixelFormat, error) {
	for f, n := range pixelFormatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, newError(CodeUnknownFormat, "pixel format", fmt.Sprintf("unknown pixel format %q", name))
}

// Code returns the wire code.
func (f PixelFormat) Code() int { return int(f) }

func (f PixelFormat) String() string {
	if n, ok := pixelFormatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// IsDepth reports whether f is one of the depth encodings.
func (f PixelFormat) IsDepth() bool {
	return f >= PixelFormatDepth1MM && f <= PixelFormatShift9_3
}

// BytesPerPixel returns the size of one pixel, or 0 for compressed formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatDepth1MM, PixelFormatDepth100UM, PixelFormatShift9_2, PixelFormatShift9_3, PixelFormatGray16:
		return 2
	case PixelFormatGray8:
		return 1
	case PixelFormatRGB888:
		return 3
	case PixelFormatYUV422, PixelFormatYUYV:
		return 2
	default:
		return 0
	}
}

// SensorType is the kind of data a sensor produces.
type SensorType int

const (
	SensorIR    SensorType = 1
	SensorColor SensorType = 2
	SensorDepth SensorType = 3
)

// SensorTypes lists every sensor type in wire-code order.
var SensorTypes = []SensorType{SensorIR, SensorColor, SensorDepth}

// SensorTypeFromCode decodes a wire code.
func SensorTypeFromCode(code int) (SensorType, error) {
	switch s := SensorType(code); s {
	case SensorIR, SensorColor, SensorDepth:
		return s, nil
	}
	return 0, newError(CodeUnknownFormat, "sensor type", fmt.Sprintf("unknown sensor type code %d", code))
}

// ParseSensorType accepts "depth", "color" or "ir" in any case.
func ParseSensorType(name string) (SensorType, error) {
	switch name {
	case "depth", "DEPTH":
		return SensorDepth, nil
	case "color", "COLOR":
		return SensorColor, nil
	case "ir", "IR":
		return SensorIR, nil
	}
	return 0, newError(CodeUnknownFormat, "sensor type", fmt.Sprintf("unknown sensor type %q", name))
}

func (s SensorType) Code() int { return int(s) }

func (s SensorType) String() string {
	switch s {
	case SensorIR:
		return "IR"
	case SensorColor:
		return "COLOR"
	case SensorDepth:
		return "DEPTH"
	}
	return fmt.Sprintf("SensorType(%d)", int(s))
}

// ImageRegistrationMode controls whether depth is remapped onto the color
// image.
type ImageRegistrationMode int

const (
	RegistrationOff          ImageRegistrationMode = 0
	RegistrationDepthToColor ImageRegistrationMode = 1
)

// ImageRegistrationModeFromCode decodes a wire code.
func ImageRegistrationModeFromCode(code int) (ImageRegistrationMode, error) {
	switch m := ImageRegistrationMode(code); m {
	case RegistrationOff, RegistrationDepthToColor:
		return m, nil
	}
	return 0, newError(CodeUnknownFormat, "registration mode", fmt.Sprintf("unknown image registration mode code %d", code))
}

func (m ImageRegistrationMode) Code() int { return int(m) }

func (m ImageRegistrationMode) String() string {
	switch m {
	case RegistrationOff:
		return "OFF"
	case RegistrationDepthToColor:
		return "DEPTH_TO_COLOR"
	}
	return fmt.Sprintf("ImageRegistrationMode(%d)", int(m))
}
