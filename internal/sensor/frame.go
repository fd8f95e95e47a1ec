package sensor

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/smazurov/depthnode/internal/sensor/handle"
)

// FrameInfo describes one captured image.
type FrameInfo struct {
	Sensor          SensorType `json:"sensor"`
	Index           int64      `json:"index"`
	TimestampMicros uint64     `json:"timestamp_us"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	Stride          int        `json:"stride"`
	VideoMode       VideoMode  `json:"video_mode"`
	Cropping        bool       `json:"cropping"`
	CropOriginX     int        `json:"crop_origin_x"`
	CropOriginY     int        `json:"crop_origin_y"`
}

// Frame is one reference to a pooled frame buffer. Every *Frame returned by
// this package must be released exactly once; further Release calls on the
// same *Frame are ignored and never affect other references to the buffer.
//
//	frame, err := stream.ReadFrame(ctx)
//	if err != nil { ... }
//	defer frame.Release()
type Frame struct {
	buf      *buffer
	released atomic.Bool
}

// Handle identifies the underlying buffer in its pool.
func (f *Frame) Handle() handle.Handle {
	return f.buf.handle
}

// Info returns the frame metadata.
func (f *Frame) Info() (FrameInfo, error) {
	if f.released.Load() {
		return FrameInfo{}, errReleased("frame info")
	}
	return f.buf.info, nil
}

// Data returns the pixel bytes. The slice is shared with every other
// reference and must not be modified or kept after Release.
func (f *Frame) Data() ([]byte, error) {
	if f.released.Load() {
		return nil, errReleased("frame data")
	}
	return f.buf.data, nil
}

// DepthAt returns the 16-bit little-endian pixel at (x, y).
func (f *Frame) DepthAt(x, y int) (uint16, error) {
	if f.released.Load() {
		return 0, errReleased("frame depth")
	}
	info := f.buf.info
	if x < 0 || y < 0 || x >= info.Width || y >= info.Height {
		return 0, newError(CodeInvalidArgument, "frame depth", fmt.Sprintf("pixel (%d,%d) outside %dx%d", x, y, info.Width, info.Height))
	}
	if info.VideoMode.PixelFormat.BytesPerPixel() != 2 {
		return 0, newError(CodeUnsupported, "frame depth", fmt.Sprintf("pixel format %s is not 16-bit", info.VideoMode.PixelFormat))
	}
	off := y*info.Stride + x*2
	if off+2 > len(f.buf.data) {
		return 0, newError(CodeInvalidArgument, "frame depth", "pixel outside buffer")
	}
	return binary.LittleEndian.Uint16(f.buf.data[off:]), nil
}

// Acquire returns a new reference to the same buffer.
func (f *Frame) Acquire() (*Frame, error) {
	if f.released.Load() {
		return nil, errReleased("frame acquire")
	}
	if !f.buf.incRef() {
		return nil, errReleased("frame acquire")
	}
	return &Frame{buf: f.buf}, nil
}

// Release drops this reference. Safe to call more than once.
func (f *Frame) Release() {
	if f == nil || !f.released.CompareAndSwap(false, true) {
		return
	}
	f.buf.decRef()
}

// Released reports whether Release has been called on f.
func (f *Frame) Released() bool {
	return f.released.Load()
}

func errReleased(op string) error {
	return newError(CodeIllegalState, op, "frame already released")
}
