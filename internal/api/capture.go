package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/svbcapture/internal/api/models"
	"github.com/smazurov/svbcapture/internal/metrics"
)

type stopInput struct {
	Wait bool `query:"wait" doc:"Wait for the acquisition loop to exit before responding"`
}

func (s *Server) registerCaptureRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "start-capture",
		Method:        http.MethodPost,
		Path:          "/api/capture/start",
		Summary:       "Start Capture",
		Description:   "Start continuous acquisition. Frames go to every registered consumer.",
		Tags:          []string{"capture"},
		Errors:        []int{401, 409, 500, 503},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
	}, func(_ context.Context, _ *struct{}) (*models.CaptureResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		if err := cam.Start(s.runCtx); err != nil {
			return nil, mapCameraError(err)
		}
		return &models.CaptureResponse{Body: captureData(cam.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-capture",
		Method:      http.MethodPost,
		Path:        "/api/capture/stop",
		Summary:     "Stop Capture",
		Description: "Ask the running acquisition to stop. Stopping an idle camera is a no-op.",
		Tags:        []string{"capture"},
		Errors:      []int{401, 500, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *stopInput) (*models.CaptureResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		if err := cam.Stop(); err != nil {
			return nil, mapCameraError(err)
		}
		if input.Wait {
			select {
			case <-cam.Done():
			case <-ctx.Done():
				return nil, huma.Error504GatewayTimeout("capture still stopping")
			}
		}
		return &models.CaptureResponse{Body: captureData(cam.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "capture-status",
		Method:      http.MethodGet,
		Path:        "/api/capture/status",
		Summary:     "Capture Status",
		Description: "Current acquisition state and frame count",
		Tags:        []string{"capture"},
		Errors:      []int{401, 503},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CaptureResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		return &models.CaptureResponse{Body: captureData(cam.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "capture-metrics",
		Method:      http.MethodGet,
		Path:        "/api/capture/metrics",
		Summary:     "Capture Metrics",
		Description: "Frame, byte, timeout and consumer failure counters for the open camera",
		Tags:        []string{"capture"},
		Errors:      []int{401, 404, 503},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CaptureMetricsResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		m := metrics.Get(cam.Label())
		if m == nil {
			return nil, huma.Error404NotFound("no metrics recorded for " + cam.Label())
		}
		return &models.CaptureMetricsResponse{Body: *m}, nil
	})
}
