package sensor

import "fmt"

// VideoMode is one resolution, frame rate and pixel format combination a
// sensor supports. It is a comparable value type.
type VideoMode struct {
	ResolutionX int         `json:"resolution_x"`
	ResolutionY int         `json:"resolution_y"`
	FPS         int         `json:"fps"`
	PixelFormat PixelFormat `json:"pixel_format"`
}

func (m VideoMode) String() string {
	return fmt.Sprintf("%dx%d@%dfps %s", m.ResolutionX, m.ResolutionY, m.FPS, m.PixelFormat)
}

// Validate rejects non-positive dimensions, a non-positive frame rate and
// unknown pixel formats.
func (m VideoMode) Validate() error {
	if m.ResolutionX <= 0 || m.ResolutionY <= 0 || m.FPS <= 0 {
		return newError(CodeInvalidArgument, "video mode", fmt.Sprintf("invalid video mode %s", m))
	}
	if _, err := PixelFormatFromCode(int(m.PixelFormat)); err != nil {
		return err
	}
	return nil
}

// FrameSize is the byte size of an uncompressed frame in this mode.
func (m VideoMode) FrameSize() int {
	return m.ResolutionX * m.ResolutionY * m.PixelFormat.BytesPerPixel()
}

// SensorInfo lists the modes a sensor supports, in backend order.
type SensorInfo struct {
	Type  SensorType  `json:"type"`
	Modes []VideoMode `json:"modes"`
}

// Supports reports whether mode is one of the supported modes.
func (si SensorInfo) Supports(mode VideoMode) bool {
	for _, m := range si.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// CropArea is a sub-rectangle of the full frame.
type CropArea struct {
	OriginX int `json:"origin_x"`
	OriginY int `json:"origin_y"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

// Within reports whether the area fits inside mode's resolution.
func (c CropArea) Within(mode VideoMode) bool {
	return c.OriginX >= 0 && c.OriginY >= 0 && c.Width > 0 && c.Height > 0 &&
		c.OriginX+c.Width <= mode.ResolutionX && c.OriginY+c.Height <= mode.ResolutionY
}

// DeviceInfo describes a device as reported by its driver.
type DeviceInfo struct {
	URI          string `json:"uri"`
	Name         string `json:"name"`
	Vendor       string `json:"vendor"`
	USBVendorID  uint16 `json:"usb_vendor_id"`
	USBProductID uint16 `json:"usb_product_id"`
}
