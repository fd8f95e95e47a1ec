package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/depthnode/internal/api/models"
	"github.com/smazurov/depthnode/internal/sensor"
)

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "Devices reported by every driver, merged with the devices the daemon has open",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		infos, err := s.sensors.Devices(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to enumerate devices", err)
		}

		byURI := make(map[string]*models.DeviceData, len(infos))
		for _, info := range infos {
			d := deviceData(info)
			byURI[info.URI] = &d
		}
		for _, dev := range s.sensors.OpenDevices() {
			d, ok := byURI[dev.URI()]
			if !ok {
				fresh := deviceData(dev.Info())
				d = &fresh
				byURI[dev.URI()] = d
			}
			fillOpenDevice(d, dev)
		}

		out := make([]models.DeviceData, 0, len(byURI))
		for _, d := range byURI {
			out = append(out, *d)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })

		return &models.DeviceListResponse{
			Body: models.DeviceListData{Devices: out, Count: len(out)},
		}, nil
	})
}

func deviceData(info sensor.DeviceInfo) models.DeviceData {
	return models.DeviceData{
		URI:          info.URI,
		Name:         info.Name,
		Vendor:       info.Vendor,
		USBVendorID:  info.USBVendorID,
		USBProductID: info.USBProductID,
	}
}

func fillOpenDevice(d *models.DeviceData, dev *sensor.Device) {
	d.Open = true
	d.File = dev.IsFile()
	d.Registration = dev.ImageRegistrationMode().String()
	d.Sensors = d.Sensors[:0]
	for _, t := range dev.Sensors() {
		si, ok := dev.SensorInfo(t)
		if !ok {
			continue
		}
		modes := make([]models.VideoModeData, 0, len(si.Modes))
		for _, m := range si.Modes {
			modes = append(modes, models.NewVideoModeData(m))
		}
		d.Sensors = append(d.Sensors, models.SensorData{Type: t.String(), Modes: modes})
	}
}
