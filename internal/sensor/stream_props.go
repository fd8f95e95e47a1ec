package sensor

import "fmt"

// HorizontalFOV returns the horizontal field of view in radians.
func (s *Stream) HorizontalFOV() (float64, error) {
	return getAs[float64]("horizontal fov", StreamPropHFOV, s.GetProperty)
}

// VerticalFOV returns the vertical field of view in radians.
func (s *Stream) VerticalFOV() (float64, error) {
	return getAs[float64]("vertical fov", StreamPropVFOV, s.GetProperty)
}

// MaxPixelValue returns the largest value a pixel can hold.
func (s *Stream) MaxPixelValue() (int, error) {
	return getAs[int]("max pixel value", StreamPropMaxValue, s.GetProperty)
}

// MinPixelValue returns the smallest value a pixel can hold.
func (s *Stream) MinPixelValue() (int, error) {
	return getAs[int]("min pixel value", StreamPropMinValue, s.GetProperty)
}

func (s *Stream) Mirroring() (bool, error) {
	return getAs[bool]("mirroring", StreamPropMirroring, s.GetProperty)
}

func (s *Stream) SetMirroring(enabled bool) error {
	return s.SetProperty(StreamPropMirroring, enabled)
}

func (s *Stream) AutoExposure() (bool, error) {
	return getAs[bool]("auto exposure", StreamPropAutoExposure, s.GetProperty)
}

func (s *Stream) SetAutoExposure(enabled bool) error {
	return s.SetProperty(StreamPropAutoExposure, enabled)
}

func (s *Stream) AutoWhiteBalance() (bool, error) {
	return getAs[bool]("auto white balance", StreamPropAutoWhiteBalance, s.GetProperty)
}

func (s *Stream) SetAutoWhiteBalance(enabled bool) error {
	return s.SetProperty(StreamPropAutoWhiteBalance, enabled)
}

func (s *Stream) Exposure() (int, error) {
	return getAs[int]("exposure", StreamPropExposure, s.GetProperty)
}

func (s *Stream) SetExposure(v int) error {
	if v < 0 {
		return newError(CodeInvalidArgument, "set exposure", fmt.Sprintf("exposure %d is negative", v))
	}
	return s.SetProperty(StreamPropExposure, v)
}

func (s *Stream) Gain() (int, error) {
	return getAs[int]("gain", StreamPropGain, s.GetProperty)
}

func (s *Stream) SetGain(v int) error {
	if v < 0 {
		return newError(CodeInvalidArgument, "set gain", fmt.Sprintf("gain %d is negative", v))
	}
	return s.SetProperty(StreamPropGain, v)
}

// Cropping returns the crop area and whether cropping is enabled.
func (s *Stream) Cropping() (CropArea, bool, error) {
	c, err := getAs[Cropping]("cropping", StreamPropCropping, s.GetProperty)
	if err != nil {
		return CropArea{}, false, err
	}
	return c.Area, c.Enabled, nil
}

// SetCropping restricts frames to area, which must lie inside the current
// video mode.
func (s *Stream) SetCropping(area CropArea) error {
	if mode := s.VideoMode(); !area.Within(mode) {
		return newError(CodeInvalidArgument, "set cropping", fmt.Sprintf("crop %+v outside %dx%d", area, mode.ResolutionX, mode.ResolutionY))
	}
	return s.SetProperty(StreamPropCropping, Cropping{Enabled: true, Area: area})
}

// ResetCropping disables cropping.
func (s *Stream) ResetCropping() error {
	return s.SetProperty(StreamPropCropping, Cropping{})
}
