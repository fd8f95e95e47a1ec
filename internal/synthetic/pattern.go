package synthetic

import (
	"encoding/binary"

	"github.com/smazurov/depthnode/internal/sensor"
)

// pattern selects what fill draws: a region of a fullW x fullH image for
// frame index.
type pattern struct {
	format       sensor.PixelFormat
	fullW, fullH int
	area         sensor.CropArea
	mirror       bool
	index        int64
}

// DepthAt is the generated depth in millimeters at full-frame pixel (x, y)
// of frame index: a plane receding left to right with horizontal ripples
// that drift with the frame index.
func DepthAt(x, y, width int, index int64) uint16 {
	ripple := (y + int(index)) % 64
	return uint16(800 + 2000*x/width + 4*ripple)
}

// fill writes the pattern into data, which holds area.Width*area.Height
// pixels.
func fill(data []byte, p pattern) {
	bpp := p.format.BytesPerPixel()
	i := 0
	for cy := 0; cy < p.area.Height; cy++ {
		y := p.area.OriginY + cy
		for cx := 0; cx < p.area.Width; cx++ {
			x := p.area.OriginX + cx
			if p.mirror {
				x = p.fullW - 1 - x
			}
			p.pixel(data[i:i+bpp], x, y)
			i += bpp
		}
	}
}

func (p pattern) pixel(out []byte, x, y int) {
	idx := int(p.index)
	switch p.format {
	case sensor.PixelFormatDepth1MM, sensor.PixelFormatShift9_2, sensor.PixelFormatShift9_3:
		binary.LittleEndian.PutUint16(out, DepthAt(x, y, p.fullW, p.index))
	case sensor.PixelFormatDepth100UM:
		binary.LittleEndian.PutUint16(out, DepthAt(x, y, p.fullW, p.index)*10)
	case sensor.PixelFormatRGB888:
		out[0] = byte(x * 255 / p.fullW)
		out[1] = byte(y * 255 / p.fullH)
		out[2] = byte(idx * 8)
	case sensor.PixelFormatGray8:
		out[0] = byte(x + y + idx)
	case sensor.PixelFormatGray16:
		binary.LittleEndian.PutUint16(out, uint16((x*y+idx*16)&0x3ff))
	case sensor.PixelFormatYUV422, sensor.PixelFormatYUYV:
		// luma ramp, neutral chroma
		out[0] = byte(x + idx)
		out[1] = 128
	}
}
