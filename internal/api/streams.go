package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/depthnode/internal/api/models"
	"github.com/smazurov/depthnode/internal/metrics"
	"github.com/smazurov/depthnode/internal/sensor"
)

func (s *Server) registerStreamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/api/streams",
		Summary:     "List Streams",
		Description: "Every stream not yet destroyed, with its state, mode and frame counters",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.StreamListResponse, error) {
		open := s.sensors.OpenStreams()
		sort.Slice(open, func(i, j int) bool { return open[i].ID() < open[j].ID() })

		out := make([]models.StreamData, 0, len(open))
		for _, st := range open {
			out = append(out, streamData(st))
		}
		return &models.StreamListResponse{
			Body: models.StreamListData{Streams: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/api/streams/{id}",
		Summary:     "Get Stream",
		Description: "Status of one stream by handle",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(_ context.Context, input *models.StreamRequest) (*models.StreamResponse, error) {
		st, err := s.sensors.StreamByID(input.ID)
		if err != nil {
			return nil, huma.Error404NotFound(fmt.Sprintf("Stream %d not found", input.ID))
		}
		return &models.StreamResponse{Body: streamData(st)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-frame-pool",
		Method:      http.MethodGet,
		Path:        "/api/pool",
		Summary:     "Frame Pool",
		Description: "Frame buffer pool statistics",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.PoolResponse, error) {
		return &models.PoolResponse{Body: s.sensors.Pool().Stats()}, nil
	})
}

func streamData(st *sensor.Stream) models.StreamData {
	uri := st.Device().URI()
	return models.StreamData{
		ID:      st.ID(),
		URI:     uri,
		Sensor:  st.Sensor().String(),
		State:   st.State().String(),
		Mode:    models.NewVideoModeData(st.VideoMode()),
		Dropped: st.Dropped(),
		Metrics: metrics.GetStreamMetrics(uri, st.Sensor().String()),
	}
}
