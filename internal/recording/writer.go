package recording

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/smazurov/depthnode/internal/sensor"
)

// Writer appends records to a new recording. It is not safe for
// concurrent use.
type Writer struct {
	f       *os.File
	bw      *bufio.Writer
	offset  int64
	header  fileHeader
	nodes   map[uint32][]seekEntry
	scratch []byte
}

// Create truncates path and writes the file header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		f:      f,
		bw:     bufio.NewWriterSize(f, 1<<20),
		header: fileHeader{Major: versionMajor, Minor: versionMinor, Session: uuid.New()},
		nodes:  make(map[uint32][]seekEntry),
	}
	if err := w.write(w.header.marshal()); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Session identifies this recording.
func (w *Writer) Session() uuid.UUID { return w.header.Session }

func (w *Writer) write(b []byte) error {
	n, err := w.bw.Write(b)
	w.offset += int64(n)
	return err
}

func (w *Writer) record(t recordType, node uint32, fields, payload []byte) error {
	var hdr [recordHeaderSize]byte
	recordHeader{Type: t, Node: node, FieldsSize: uint32(len(fields)), PayloadSize: uint32(len(payload))}.marshal(hdr[:])
	if err := w.write(hdr[:]); err != nil {
		return err
	}
	if err := w.write(fields); err != nil {
		return err
	}
	return w.write(payload)
}

// WriteDeviceInfo stores the recorded device's description.
func (w *Writer) WriteDeviceInfo(info sensor.DeviceInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return w.record(recordDeviceInfo, DeviceNode, nil, payload)
}

// AddNode declares stream node id (> 0) with its initial mode.
func (w *Writer) AddNode(id uint32, sensorType sensor.SensorType, mode sensor.VideoMode) error {
	if id == DeviceNode {
		return fmt.Errorf("node id %d is reserved", DeviceNode)
	}
	if _, dup := w.nodes[id]; dup {
		return fmt.Errorf("node %d already added", id)
	}
	w.nodes[id] = nil
	return w.record(recordNodeAdded, id, marshalNode(sensorType, mode), nil)
}

// WriteProperty records a property of node, or of the device for
// DeviceNode.
func (w *Writer) WriteProperty(node uint32, p Property) error {
	fields, payload, err := marshalProperty(p)
	if err != nil {
		return err
	}
	return w.record(recordProperty, node, fields, payload)
}

// WriteFrame encodes data with codec and appends it to node. It returns the
// encoded size.
func (w *Writer) WriteFrame(node uint32, info sensor.FrameInfo, data []byte, codec Codec) (int, error) {
	entries, ok := w.nodes[node]
	if !ok {
		return 0, fmt.Errorf("unknown node %d", node)
	}
	payload, err := encode(codec, info, data, w.scratch)
	if err != nil {
		return 0, err
	}
	w.scratch = payload

	fields := frameFields{
		Index:     info.Index,
		Timestamp: info.TimestampMicros,
		Codec:     codec,
		RawSize:   uint32(len(data)),
		Width:     uint32(info.Width),
		Height:    uint32(info.Height),
		Stride:    uint32(info.Stride),
		Cropping:  info.Cropping,
		OriginX:   uint32(info.CropOriginX),
		OriginY:   uint32(info.CropOriginY),
		Mode:      info.VideoMode,
	}
	offset := w.offset
	if err := w.record(recordNewData, node, fields.marshal(), payload); err != nil {
		return 0, err
	}
	w.nodes[node] = append(entries, seekEntry{Index: info.Index, Timestamp: info.TimestampMicros, Offset: offset})
	if info.TimestampMicros > w.header.MaxTimestamp {
		w.header.MaxTimestamp = info.TimestampMicros
	}
	return len(payload), nil
}

// Frames returns how many frames node holds so far.
func (w *Writer) Frames(node uint32) int { return len(w.nodes[node]) }

// Flush pushes buffered records to the file.
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close writes the seek tables and end record, patches the header and
// closes the file.
func (w *Writer) Close() error {
	err := w.finalize()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (w *Writer) finalize() error {
	ids := make([]uint32, 0, len(w.nodes))
	for id := range w.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w.header.SeekTableOffset = uint64(w.offset)
	for _, id := range ids {
		if err := w.record(recordSeekTable, id, nil, marshalSeekTable(w.nodes[id])); err != nil {
			return err
		}
	}
	if err := w.record(recordEnd, DeviceNode, nil, nil); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if _, err := w.f.WriteAt(w.header.marshal(), 0); err != nil {
		return err
	}
	return w.f.Sync()
}
