package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/depthnode/internal/api/models"
	"github.com/smazurov/depthnode/internal/streams"
)

func (s *Server) registerRecorderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-consumers",
		Method:      http.MethodGet,
		Path:        "/api/consumers",
		Summary:     "List Configured Streams",
		Description: "Streams opened from the streams file with their consumer loop state",
		Tags:        []string{"streams"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.ConsumerListResponse, error) {
		out := []streams.ConsumerInfo{}
		if s.consumers != nil {
			out = append(out, s.consumers.List()...)
		}
		return &models.ConsumerListResponse{
			Body: models.ConsumerListData{Consumers: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-recorders",
		Method:      http.MethodGet,
		Path:        "/api/recorders",
		Summary:     "List Recorders",
		Description: "Recorders started by the daemon",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.RecorderListResponse, error) {
		out := []models.RecorderData{}
		if s.recorders != nil {
			for _, r := range s.recorders.Recorders() {
				d := models.RecorderData{
					Path:    r.Path(),
					State:   r.State().String(),
					Streams: []uint64{},
				}
				for _, st := range r.Streams() {
					d.Streams = append(d.Streams, st.ID())
				}
				if err := r.Err(); err != nil {
					d.Error = err.Error()
				}
				out = append(out, d)
			}
		}
		return &models.RecorderListResponse{
			Body: models.RecorderListData{Recorders: out, Count: len(out)},
		}, nil
	})
}
