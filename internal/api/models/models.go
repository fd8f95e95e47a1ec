package models

import (
	"github.com/smazurov/depthnode/internal/metrics"
	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/smazurov/depthnode/internal/streams"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"42" doc:"CI build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go version used to build"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS/architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Device models
type VideoModeData struct {
	Width       int    `json:"width" example:"640" doc:"Horizontal resolution"`
	Height      int    `json:"height" example:"480" doc:"Vertical resolution"`
	FPS         int    `json:"fps" example:"30" doc:"Frames per second"`
	PixelFormat string `json:"pixel_format" example:"DEPTH_1_MM" doc:"Pixel format name"`
}

// NewVideoModeData converts a sensor video mode.
func NewVideoModeData(m sensor.VideoMode) VideoModeData {
	return VideoModeData{
		Width:       m.ResolutionX,
		Height:      m.ResolutionY,
		FPS:         m.FPS,
		PixelFormat: m.PixelFormat.String(),
	}
}

type SensorData struct {
	Type  string          `json:"type" example:"DEPTH" doc:"Sensor type"`
	Modes []VideoModeData `json:"modes" doc:"Supported video modes"`
}

type DeviceData struct {
	URI          string       `json:"uri" example:"synthetic://0" doc:"Device URI"`
	Name         string       `json:"name" example:"Synthetic Depth Camera" doc:"Device name"`
	Vendor       string       `json:"vendor" example:"depthnode" doc:"Device vendor"`
	USBVendorID  uint16       `json:"usb_vendor_id" example:"0" doc:"USB vendor id"`
	USBProductID uint16       `json:"usb_product_id" example:"0" doc:"USB product id"`
	Open         bool         `json:"open" example:"true" doc:"Whether the daemon holds the device open"`
	File         bool         `json:"file,omitempty" example:"false" doc:"Whether the device replays a recording"`
	Registration string       `json:"registration,omitempty" example:"OFF" doc:"Image registration mode of an open device"`
	Sensors      []SensorData `json:"sensors,omitempty" doc:"Sensors of an open device"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Enumerated and open devices"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

// Stream models
type StreamData struct {
	ID      uint64                 `json:"id" example:"3" doc:"Stream handle"`
	URI     string                 `json:"uri" example:"synthetic://0" doc:"Device URI"`
	Sensor  string                 `json:"sensor" example:"DEPTH" doc:"Sensor type"`
	State   string                 `json:"state" example:"started" doc:"Lifecycle state"`
	Mode    VideoModeData          `json:"mode" doc:"Current video mode"`
	Dropped uint64                 `json:"dropped" example:"0" doc:"Frames replaced before being read"`
	Metrics *metrics.StreamMetrics `json:"metrics,omitempty" doc:"Frame counters for the device sensor"`
}

type StreamListData struct {
	Streams []StreamData `json:"streams" doc:"List of open streams"`
	Count   int          `json:"count" example:"2" doc:"Number of open streams"`
}

type StreamListResponse struct {
	Body StreamListData
}

type StreamResponse struct {
	Body StreamData
}

type StreamRequest struct {
	ID uint64 `path:"id" example:"3" doc:"Stream handle"`
}

// Recorder models
type RecorderData struct {
	Path    string   `json:"path" example:"/var/lib/depthnode/depth-1700000000.dnr" doc:"Recording file"`
	State   string   `json:"state" example:"recording" doc:"Lifecycle state"`
	Streams []uint64 `json:"streams" doc:"Attached stream handles"`
	Error   string   `json:"error,omitempty" doc:"First write error, if any"`
}

type RecorderListData struct {
	Recorders []RecorderData `json:"recorders" doc:"Active recorders"`
	Count     int            `json:"count" example:"1" doc:"Number of recorders"`
}

type RecorderListResponse struct {
	Body RecorderListData
}

// Consumer models
type ConsumerListData struct {
	Consumers []streams.ConsumerInfo `json:"consumers" doc:"Configured streams"`
	Count     int                    `json:"count" example:"2" doc:"Number of configured streams"`
}

type ConsumerListResponse struct {
	Body ConsumerListData
}

// Frame pool models
type PoolResponse struct {
	Body sensor.PoolStats
}

// Log models
type LogEntryData struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-27T10:30:00.123Z" doc:"Record time"`
	Level      string         `json:"level" example:"INFO" doc:"Severity"`
	Module     string         `json:"module" example:"sensor" doc:"Logger module"`
	Message    string         `json:"message" example:"Device opened" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

type LogsRequest struct {
	Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Number of most recent entries"`
}

type LogsData struct {
	Entries []LogEntryData `json:"entries" doc:"Most recent log entries, oldest first"`
	Count   int            `json:"count" example:"100" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}
