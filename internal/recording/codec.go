package recording

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/smazurov/depthnode/internal/sensor"
)

// Codec identifies how a frame payload is encoded. Values are four-character
// codes stored little-endian.
type Codec uint32

func fourCC(s string) Codec {
	return Codec(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24)
}

var (
	CodecNone = fourCC("NONE")
	CodecZstd = fourCC("ZSTD")
	CodecJPEG = fourCC("JPEG")
)

func (c Codec) String() string {
	b := []byte{byte(c), byte(c >> 8), byte(c >> 16), byte(c >> 24)}
	return string(b)
}

// jpegQuality matches typical camera output.
const jpegQuality = 90

// ChooseCodec picks JPEG for 8-bit color when lossy compression is allowed,
// stores already compressed formats as-is and compresses everything else
// losslessly.
func ChooseCodec(format sensor.PixelFormat, allowLossy bool) Codec {
	switch {
	case format == sensor.PixelFormatJPEG:
		return CodecNone
	case allowLossy && (format == sensor.PixelFormatRGB888 || format == sensor.PixelFormatGray8):
		return CodecJPEG
	default:
		return CodecZstd
	}
}

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

// encoder and decoder are shared; EncodeAll/DecodeAll are safe for
// concurrent use.
func encoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	})
	return zstdEnc
}

func decoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdDec
}

// encode compresses a frame of info's geometry. dst is reused when large
// enough.
func encode(c Codec, info sensor.FrameInfo, data, dst []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return append(dst[:0], data...), nil
	case CodecZstd:
		return encoder().EncodeAll(data, dst[:0]), nil
	case CodecJPEG:
		img, err := toImage(info, data)
		if err != nil {
			return nil, err
		}
		buf := bytes.NewBuffer(dst[:0])
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("jpeg encode: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown codec %s", c)
}

// decode expands payload into dst, which must be exactly the raw frame
// size.
func decode(c Codec, info sensor.FrameInfo, payload, dst []byte) error {
	switch c {
	case CodecNone:
		if len(payload) != len(dst) {
			return fmt.Errorf("raw payload is %d bytes, want %d", len(payload), len(dst))
		}
		copy(dst, payload)
		return nil
	case CodecZstd:
		out, err := decoder().DecodeAll(payload, dst[:0])
		if err != nil {
			return fmt.Errorf("zstd decode: %w", err)
		}
		if len(out) != len(dst) {
			return fmt.Errorf("zstd payload decoded to %d bytes, want %d", len(out), len(dst))
		}
		copy(dst, out)
		return nil
	case CodecJPEG:
		img, err := jpeg.Decode(bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("jpeg decode: %w", err)
		}
		return fromImage(img, info, dst)
	}
	return fmt.Errorf("unknown codec %s", c)
}

func toImage(info sensor.FrameInfo, data []byte) (image.Image, error) {
	rect := image.Rect(0, 0, info.Width, info.Height)
	switch info.VideoMode.PixelFormat {
	case sensor.PixelFormatGray8:
		if len(data) < info.Stride*info.Height {
			return nil, fmt.Errorf("gray frame is %d bytes, want %d", len(data), info.Stride*info.Height)
		}
		return &image.Gray{Pix: data, Stride: info.Stride, Rect: rect}, nil
	case sensor.PixelFormatRGB888:
		if len(data) < info.Stride*info.Height {
			return nil, fmt.Errorf("rgb frame is %d bytes, want %d", len(data), info.Stride*info.Height)
		}
		img := image.NewRGBA(rect)
		for y := 0; y < info.Height; y++ {
			src := data[y*info.Stride:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < info.Width; x++ {
				dst[4*x] = src[3*x]
				dst[4*x+1] = src[3*x+1]
				dst[4*x+2] = src[3*x+2]
				dst[4*x+3] = 0xff
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("jpeg cannot encode %s", info.VideoMode.PixelFormat)
}

func fromImage(img image.Image, info sensor.FrameInfo, dst []byte) error {
	b := img.Bounds()
	if b.Dx() != info.Width || b.Dy() != info.Height {
		return fmt.Errorf("jpeg is %dx%d, want %dx%d", b.Dx(), b.Dy(), info.Width, info.Height)
	}
	switch info.VideoMode.PixelFormat {
	case sensor.PixelFormatGray8:
		for y := 0; y < info.Height; y++ {
			row := dst[y*info.Stride:]
			for x := 0; x < info.Width; x++ {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				row[x] = byte(r >> 8)
			}
		}
	case sensor.PixelFormatRGB888:
		for y := 0; y < info.Height; y++ {
			row := dst[y*info.Stride:]
			for x := 0; x < info.Width; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				row[3*x] = byte(r >> 8)
				row[3*x+1] = byte(g >> 8)
				row[3*x+2] = byte(bl >> 8)
			}
		}
	default:
		return fmt.Errorf("jpeg cannot decode into %s", info.VideoMode.PixelFormat)
	}
	return nil
}
