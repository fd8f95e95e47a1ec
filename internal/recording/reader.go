package recording

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/smazurov/depthnode/internal/sensor"
)

// Node is one recorded stream.
type Node struct {
	ID         uint32
	Sensor     sensor.SensorType
	Mode       sensor.VideoMode
	Properties map[sensor.PropertyID]any

	frames []seekEntry
}

// NumFrames is the number of frames recorded for the node.
func (n *Node) NumFrames() int { return len(n.frames) }

// Timestamp returns the timestamp of frame i.
func (n *Node) Timestamp(i int) uint64 { return n.frames[i].Timestamp }

// FrameAtTime returns the position of the last frame at or before ts, or 0.
func (n *Node) FrameAtTime(ts uint64) int {
	i := sort.Search(len(n.frames), func(i int) bool { return n.frames[i].Timestamp > ts })
	if i == 0 {
		return 0
	}
	return i - 1
}

// Reader gives random access to the frames of a recording. Reads go through
// ReadAt, so one Reader may serve several goroutines.
type Reader struct {
	f         *os.File
	size      int64
	header    fileHeader
	device    sensor.DeviceInfo
	nodes     []*Node
	devProps  map[sensor.PropertyID]any
	finalized bool
}

// IsRecording reports whether path starts with the recording magic.
func IsRecording(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var m [4]byte
	if _, err := io.ReadFull(f, m[:]); err != nil {
		return false
	}
	return m == Magic
}

// Open indexes the recording at path. Finalized files are indexed from
// their seek tables; others are scanned record by record, stopping at the
// first truncated record.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r := &Reader{f: f, size: st.Size(), devProps: make(map[sensor.PropertyID]any)}

	b, err := readFull(f, 0, headerSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if r.header, err = parseHeader(b); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.index(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) index() error {
	useTables := r.header.SeekTableOffset != 0
	byID := make(map[uint32]*Node)

	off := int64(headerSize)
	for off+recordHeaderSize <= r.size {
		if useTables && off == int64(r.header.SeekTableOffset) {
			break
		}
		hb, err := readFull(r.f, off, recordHeaderSize)
		if err != nil {
			return err
		}
		rh, err := parseRecordHeader(hb)
		if err != nil {
			if useTables {
				return err
			}
			break
		}
		end := off + recordHeaderSize + int64(rh.FieldsSize) + int64(rh.PayloadSize)
		if end > r.size {
			// truncated tail of an unfinalized file
			break
		}

		switch rh.Type {
		case recordNodeAdded:
			fields, err := readFull(r.f, off+recordHeaderSize, int(rh.FieldsSize))
			if err != nil {
				return err
			}
			st, mode, err := parseNode(fields)
			if err != nil {
				return err
			}
			n := &Node{ID: rh.Node, Sensor: st, Mode: mode, Properties: make(map[sensor.PropertyID]any)}
			byID[rh.Node] = n
			r.nodes = append(r.nodes, n)
		case recordProperty:
			body, err := readFull(r.f, off+recordHeaderSize, int(rh.FieldsSize+rh.PayloadSize))
			if err != nil {
				return err
			}
			p, err := parseProperty(body[:rh.FieldsSize], body[rh.FieldsSize:])
			if err != nil {
				return err
			}
			if rh.Node == DeviceNode {
				r.devProps[p.ID] = p.Value
			} else if n := byID[rh.Node]; n != nil {
				n.Properties[p.ID] = p.Value
			}
		case recordDeviceInfo:
			payload, err := readFull(r.f, off+recordHeaderSize+int64(rh.FieldsSize), int(rh.PayloadSize))
			if err != nil {
				return err
			}
			if err := json.Unmarshal(payload, &r.device); err != nil {
				return fmt.Errorf("%w: device info: %v", errCorrupt, err)
			}
		case recordNewData:
			if useTables {
				break
			}
			fields, err := readFull(r.f, off+recordHeaderSize, frameFieldsSize)
			if err != nil {
				return err
			}
			ff, err := parseFrameFields(fields)
			if err != nil {
				return err
			}
			if n := byID[rh.Node]; n != nil {
				n.frames = append(n.frames, seekEntry{Index: ff.Index, Timestamp: ff.Timestamp, Offset: off})
			}
		case recordEnd:
			return nil
		}
		off = end
	}

	if useTables {
		r.finalized = true
		return r.readSeekTables(byID)
	}
	return nil
}

func (r *Reader) readSeekTables(byID map[uint32]*Node) error {
	off := int64(r.header.SeekTableOffset)
	for off+recordHeaderSize <= r.size {
		hb, err := readFull(r.f, off, recordHeaderSize)
		if err != nil {
			return err
		}
		rh, err := parseRecordHeader(hb)
		if err != nil {
			return err
		}
		switch rh.Type {
		case recordEnd:
			return nil
		case recordSeekTable:
			payload, err := readFull(r.f, off+recordHeaderSize+int64(rh.FieldsSize), int(rh.PayloadSize))
			if err != nil {
				return err
			}
			entries, err := parseSeekTable(payload)
			if err != nil {
				return err
			}
			if n := byID[rh.Node]; n != nil {
				n.frames = entries
			}
		default:
			return fmt.Errorf("%w: record %d in seek table section", errCorrupt, rh.Type)
		}
		off += recordHeaderSize + int64(rh.FieldsSize) + int64(rh.PayloadSize)
	}
	return fmt.Errorf("%w: missing end record", errCorrupt)
}

// Session identifies the recording.
func (r *Reader) Session() uuid.UUID { return r.header.Session }

// Finalized reports whether the writer closed the file cleanly.
func (r *Reader) Finalized() bool { return r.finalized }

// Device describes the device the recording was made from.
func (r *Reader) Device() sensor.DeviceInfo { return r.device }

// DeviceProperties returns the recorded device properties.
func (r *Reader) DeviceProperties() map[sensor.PropertyID]any { return r.devProps }

// Nodes returns the recorded streams in the order they were added.
func (r *Reader) Nodes() []*Node { return r.nodes }

// MaxTimestamp is the largest frame timestamp, known only for finalized
// files.
func (r *Reader) MaxTimestamp() uint64 { return r.header.MaxTimestamp }

// FrameInfo returns the metadata of frame i of n and the decoded size.
func (r *Reader) FrameInfo(n *Node, i int) (sensor.FrameInfo, int, error) {
	ff, _, err := r.frameFields(n, i)
	if err != nil {
		return sensor.FrameInfo{}, 0, err
	}
	info := ff.info()
	info.Sensor = n.Sensor
	return info, int(ff.RawSize), nil
}

func (r *Reader) frameFields(n *Node, i int) (frameFields, recordHeader, error) {
	if i < 0 || i >= len(n.frames) {
		return frameFields{}, recordHeader{}, fmt.Errorf("frame %d out of range [0,%d)", i, len(n.frames))
	}
	off := n.frames[i].Offset
	b, err := readFull(r.f, off, recordHeaderSize+frameFieldsSize)
	if err != nil {
		return frameFields{}, recordHeader{}, err
	}
	rh, err := parseRecordHeader(b)
	if err != nil {
		return frameFields{}, recordHeader{}, err
	}
	if rh.Type != recordNewData || rh.Node != n.ID {
		return frameFields{}, recordHeader{}, fmt.Errorf("%w: seek entry %d of node %d", errCorrupt, i, n.ID)
	}
	ff, err := parseFrameFields(b[recordHeaderSize:])
	return ff, rh, err
}

// ReadFrame decodes frame i of n into dst, which must hold exactly the
// decoded size reported by FrameInfo.
func (r *Reader) ReadFrame(n *Node, i int, dst []byte) (sensor.FrameInfo, error) {
	ff, rh, err := r.frameFields(n, i)
	if err != nil {
		return sensor.FrameInfo{}, err
	}
	if int(ff.RawSize) != len(dst) {
		return sensor.FrameInfo{}, fmt.Errorf("frame %d decodes to %d bytes, buffer holds %d", i, ff.RawSize, len(dst))
	}
	payload, err := readFull(r.f, n.frames[i].Offset+recordHeaderSize+int64(rh.FieldsSize), int(rh.PayloadSize))
	if err != nil {
		return sensor.FrameInfo{}, err
	}
	info := ff.info()
	info.Sensor = n.Sensor
	if err := decode(ff.Codec, info, payload, dst); err != nil {
		return sensor.FrameInfo{}, err
	}
	return info, nil
}

// Close releases the file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
