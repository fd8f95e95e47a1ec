// Package recording reads and writes depthnode recordings and provides the
// Recorder that persists live streams.
//
// A recording is a fixed header followed by records. Every record starts
// with a recordHeader; its fixed-size fields follow, then a variable
// payload. NodeAdded, property and device-info records come first, then
// NewData records in arrival order, and on finalize one SeekTable record per
// node and an End record. The header is patched last with the seek table
// offset, so a file that was never finalized is still readable by scanning.
package recording

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/smazurov/depthnode/internal/sensor"
)

// Magic opens every recording.
var Magic = [4]byte{'D', 'N', 'R', 'F'}

const (
	versionMajor = 1
	versionMinor = 0

	recordMagic = 0x43455244 // "DREC"

	headerSize       = 40
	recordHeaderSize = 20

	// DeviceNode carries device-wide records.
	DeviceNode uint32 = 0
)

type recordType uint32

const (
	recordNodeAdded  recordType = 1
	recordNewData    recordType = 2
	recordProperty   recordType = 3
	recordSeekTable  recordType = 4
	recordEnd        recordType = 5
	recordDeviceInfo recordType = 6
)

var le = binary.LittleEndian

// errCorrupt marks structurally invalid files.
var errCorrupt = errors.New("corrupt recording")

// fileHeader is the fixed start of a recording. MaxTimestamp and
// SeekTableOffset are zero until the writer finalizes the file.
type fileHeader struct {
	Major, Minor    uint8
	Session         uuid.UUID
	MaxTimestamp    uint64
	SeekTableOffset uint64
}

func (h fileHeader) marshal() []byte {
	b := make([]byte, headerSize)
	copy(b, Magic[:])
	b[4], b[5] = h.Major, h.Minor
	copy(b[8:24], h.Session[:])
	le.PutUint64(b[24:], h.MaxTimestamp)
	le.PutUint64(b[32:], h.SeekTableOffset)
	return b
}

func parseHeader(b []byte) (fileHeader, error) {
	if len(b) < headerSize || [4]byte(b[:4]) != Magic {
		return fileHeader{}, fmt.Errorf("%w: bad magic", errCorrupt)
	}
	h := fileHeader{
		Major:           b[4],
		Minor:           b[5],
		MaxTimestamp:    le.Uint64(b[24:]),
		SeekTableOffset: le.Uint64(b[32:]),
	}
	copy(h.Session[:], b[8:24])
	if h.Major != versionMajor {
		return fileHeader{}, fmt.Errorf("unsupported recording version %d.%d", h.Major, h.Minor)
	}
	return h, nil
}

type recordHeader struct {
	Type        recordType
	Node        uint32
	FieldsSize  uint32
	PayloadSize uint32
}

func (r recordHeader) marshal(b []byte) {
	le.PutUint32(b[0:], recordMagic)
	le.PutUint32(b[4:], uint32(r.Type))
	le.PutUint32(b[8:], r.Node)
	le.PutUint32(b[12:], r.FieldsSize)
	le.PutUint32(b[16:], r.PayloadSize)
}

func parseRecordHeader(b []byte) (recordHeader, error) {
	if le.Uint32(b[0:]) != recordMagic {
		return recordHeader{}, fmt.Errorf("%w: bad record magic", errCorrupt)
	}
	return recordHeader{
		Type:        recordType(le.Uint32(b[4:])),
		Node:        le.Uint32(b[8:]),
		FieldsSize:  le.Uint32(b[12:]),
		PayloadSize: le.Uint32(b[16:]),
	}, nil
}

// nodeFields: sensor, then the initial video mode.
const nodeFieldsSize = 4 * 5

func marshalNode(sensorType sensor.SensorType, mode sensor.VideoMode) []byte {
	b := make([]byte, nodeFieldsSize)
	le.PutUint32(b[0:], uint32(sensorType.Code()))
	putMode(b[4:], mode)
	return b
}

func parseNode(b []byte) (sensor.SensorType, sensor.VideoMode, error) {
	if len(b) < nodeFieldsSize {
		return 0, sensor.VideoMode{}, fmt.Errorf("%w: short node record", errCorrupt)
	}
	st, err := sensor.SensorTypeFromCode(int(le.Uint32(b[0:])))
	if err != nil {
		return 0, sensor.VideoMode{}, err
	}
	mode, err := parseMode(b[4:])
	return st, mode, err
}

func putMode(b []byte, m sensor.VideoMode) {
	le.PutUint32(b[0:], uint32(m.ResolutionX))
	le.PutUint32(b[4:], uint32(m.ResolutionY))
	le.PutUint32(b[8:], uint32(m.FPS))
	le.PutUint32(b[12:], uint32(m.PixelFormat.Code()))
}

func parseMode(b []byte) (sensor.VideoMode, error) {
	format, err := sensor.PixelFormatFromCode(int(le.Uint32(b[12:])))
	if err != nil {
		return sensor.VideoMode{}, err
	}
	return sensor.VideoMode{
		ResolutionX: int(le.Uint32(b[0:])),
		ResolutionY: int(le.Uint32(b[4:])),
		FPS:         int(le.Uint32(b[8:])),
		PixelFormat: format,
	}, nil
}

// frameFields precede every encoded frame payload.
type frameFields struct {
	Index     int64
	Timestamp uint64
	Codec     Codec
	RawSize   uint32
	Width     uint32
	Height    uint32
	Stride    uint32
	Cropping  bool
	OriginX   uint32
	OriginY   uint32
	Mode      sensor.VideoMode
}

const frameFieldsSize = 8 + 8 + 4*9 + 16

func (f frameFields) marshal() []byte {
	b := make([]byte, frameFieldsSize)
	le.PutUint64(b[0:], uint64(f.Index))
	le.PutUint64(b[8:], f.Timestamp)
	le.PutUint32(b[16:], uint32(f.Codec))
	le.PutUint32(b[20:], f.RawSize)
	le.PutUint32(b[24:], f.Width)
	le.PutUint32(b[28:], f.Height)
	le.PutUint32(b[32:], f.Stride)
	if f.Cropping {
		le.PutUint32(b[36:], 1)
	}
	le.PutUint32(b[40:], f.OriginX)
	le.PutUint32(b[44:], f.OriginY)
	// b[48:52] reserved
	putMode(b[52:], f.Mode)
	return b
}

func parseFrameFields(b []byte) (frameFields, error) {
	if len(b) < frameFieldsSize {
		return frameFields{}, fmt.Errorf("%w: short frame record", errCorrupt)
	}
	mode, err := parseMode(b[52:])
	if err != nil {
		return frameFields{}, err
	}
	return frameFields{
		Index:     int64(le.Uint64(b[0:])),
		Timestamp: le.Uint64(b[8:]),
		Codec:     Codec(le.Uint32(b[16:])),
		RawSize:   le.Uint32(b[20:]),
		Width:     le.Uint32(b[24:]),
		Height:    le.Uint32(b[28:]),
		Stride:    le.Uint32(b[32:]),
		Cropping:  le.Uint32(b[36:])&1 != 0,
		OriginX:   le.Uint32(b[40:]),
		OriginY:   le.Uint32(b[44:]),
		Mode:      mode,
	}, nil
}

func (f frameFields) info() sensor.FrameInfo {
	return sensor.FrameInfo{
		Index:           f.Index,
		TimestampMicros: f.Timestamp,
		Width:           int(f.Width),
		Height:          int(f.Height),
		Stride:          int(f.Stride),
		VideoMode:       f.Mode,
		Cropping:        f.Cropping,
		CropOriginX:     int(f.OriginX),
		CropOriginY:     int(f.OriginY),
	}
}

// Property values are tagged by kind.
const (
	kindInt    = 1
	kindFloat  = 2
	kindBool   = 3
	kindString = 4
)

// Property is one recorded stream or device property.
type Property struct {
	ID    sensor.PropertyID
	Value any
}

func marshalProperty(p Property) (fields, payload []byte, err error) {
	fields = make([]byte, 8)
	le.PutUint32(fields[0:], uint32(p.ID))
	switch v := p.Value.(type) {
	case int:
		fields[4] = kindInt
		payload = le.AppendUint64(nil, uint64(int64(v)))
	case sensor.ImageRegistrationMode:
		fields[4] = kindInt
		payload = le.AppendUint64(nil, uint64(v.Code()))
	case float64:
		fields[4] = kindFloat
		payload = le.AppendUint64(nil, math.Float64bits(v))
	case bool:
		fields[4] = kindBool
		payload = []byte{0}
		if v {
			payload[0] = 1
		}
	case string:
		fields[4] = kindString
		payload = []byte(v)
	default:
		return nil, nil, fmt.Errorf("property %d: cannot record %T", p.ID, p.Value)
	}
	return fields, payload, nil
}

func parseProperty(fields, payload []byte) (Property, error) {
	if len(fields) < 8 {
		return Property{}, fmt.Errorf("%w: short property record", errCorrupt)
	}
	p := Property{ID: sensor.PropertyID(le.Uint32(fields[0:]))}
	switch fields[4] {
	case kindInt, kindFloat:
		if len(payload) < 8 {
			return Property{}, fmt.Errorf("%w: short property value", errCorrupt)
		}
		if fields[4] == kindInt {
			p.Value = int(int64(le.Uint64(payload)))
		} else {
			p.Value = math.Float64frombits(le.Uint64(payload))
		}
	case kindBool:
		if len(payload) < 1 {
			return Property{}, fmt.Errorf("%w: short property value", errCorrupt)
		}
		p.Value = payload[0] != 0
	case kindString:
		p.Value = string(payload)
	default:
		return Property{}, fmt.Errorf("%w: property kind %d", errCorrupt, fields[4])
	}
	return p, nil
}

// seekEntry locates one frame.
type seekEntry struct {
	Index     int64
	Timestamp uint64
	Offset    int64
}

const seekEntrySize = 24

func marshalSeekTable(entries []seekEntry) []byte {
	b := make([]byte, 0, len(entries)*seekEntrySize)
	for _, e := range entries {
		b = le.AppendUint64(b, uint64(e.Index))
		b = le.AppendUint64(b, e.Timestamp)
		b = le.AppendUint64(b, uint64(e.Offset))
	}
	return b
}

func parseSeekTable(b []byte) ([]seekEntry, error) {
	if len(b)%seekEntrySize != 0 {
		return nil, fmt.Errorf("%w: seek table size %d", errCorrupt, len(b))
	}
	out := make([]seekEntry, 0, len(b)/seekEntrySize)
	for i := 0; i < len(b); i += seekEntrySize {
		out = append(out, seekEntry{
			Index:     int64(le.Uint64(b[i:])),
			Timestamp: le.Uint64(b[i+8:]),
			Offset:    int64(le.Uint64(b[i+16:])),
		})
	}
	return out, nil
}

// readFull reads exactly n bytes at off.
func readFull(r io.ReaderAt, off int64, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := r.ReadAt(b, off); err != nil {
		return nil, err
	}
	return b, nil
}
