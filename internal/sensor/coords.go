package sensor

import (
	"fmt"
	"math"
)

// depthConversion caches the projection constants of a depth stream.
type depthConversion struct {
	resX, resY float64
	xzFactor   float64
	yzFactor   float64
	zFactor    float64
}

func (s *Stream) depthConversion(op string) (*depthConversion, error) {
	if s.sensor != SensorDepth {
		return nil, newError(CodeUnsupported, op, fmt.Sprintf("coordinate conversion needs a depth stream, got %s", s.sensor))
	}
	s.mu.Lock()
	conv, mode := s.conv, s.mode
	s.mu.Unlock()
	if conv != nil {
		return conv, nil
	}

	hfov, err := s.HorizontalFOV()
	if err != nil {
		return nil, err
	}
	vfov, err := s.VerticalFOV()
	if err != nil {
		return nil, err
	}
	conv = &depthConversion{
		resX:     float64(mode.ResolutionX),
		resY:     float64(mode.ResolutionY),
		xzFactor: math.Tan(hfov/2) * 2,
		yzFactor: math.Tan(vfov/2) * 2,
		zFactor:  1,
	}
	if mode.PixelFormat == PixelFormatDepth100UM {
		conv.zFactor = 0.1
	}

	s.mu.Lock()
	if s.mode == mode {
		s.conv = conv
	}
	s.mu.Unlock()
	return conv, nil
}

// ConvertDepthToWorld maps a depth pixel and its raw value to world
// coordinates in millimeters.
func (s *Stream) ConvertDepthToWorld(depthX, depthY, depthZ float64) (worldX, worldY, worldZ float64, err error) {
	c, err := s.depthConversion("depth to world")
	if err != nil {
		return 0, 0, 0, err
	}
	normX := depthX/c.resX - 0.5
	normY := 0.5 - depthY/c.resY

	worldZ = depthZ * c.zFactor
	worldX = normX * worldZ * c.xzFactor
	worldY = normY * worldZ * c.yzFactor
	return worldX, worldY, worldZ, nil
}

// ConvertWorldToDepth maps world coordinates in millimeters to a depth
// pixel position and raw depth value.
func (s *Stream) ConvertWorldToDepth(worldX, worldY, worldZ float64) (depthX, depthY, depthZ float64, err error) {
	c, err := s.depthConversion("world to depth")
	if err != nil {
		return 0, 0, 0, err
	}
	if worldZ == 0 {
		return 0, 0, 0, newError(CodeInvalidArgument, "world to depth", "world Z must not be zero")
	}
	depthX = c.resX*worldX/(c.xzFactor*worldZ) + c.resX/2
	depthY = c.resY/2 - c.resY*worldY/(c.yzFactor*worldZ)
	depthZ = worldZ / c.zFactor
	return depthX, depthY, depthZ, nil
}

// ConvertDepthToColor maps a depth pixel onto the color image of the same
// device. The mapping is provided by the device backend.
func ConvertDepthToColor(depth, color *Stream, depthX, depthY int, depthZ uint16) (colorX, colorY int, err error) {
	const op = "depth to color"
	if depth == nil || color == nil {
		return 0, 0, newError(CodeInvalidArgument, op, "nil stream")
	}
	if depth.sensor != SensorDepth || color.sensor != SensorColor {
		return 0, 0, newError(CodeInvalidArgument, op, fmt.Sprintf("need DEPTH and COLOR streams, got %s and %s", depth.sensor, color.sensor))
	}
	if depth.device != color.device {
		return 0, 0, newError(CodeInvalidArgument, op, "streams belong to different devices")
	}
	mapper, ok := depth.device.backend.(DepthColorMapper)
	if !ok {
		return 0, 0, newError(CodeUnsupported, op, "device cannot map depth to color")
	}
	colorX, colorY, err = mapper.ConvertDepthToColor(depthX, depthY, depthZ)
	if err != nil {
		return 0, 0, backendError(op, err)
	}
	return colorX, colorY, nil
}
