package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/svbcapture/internal/api/models"
	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/pkg/svb"
)

func (s *Server) registerControlRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-controls",
		Method:      http.MethodGet,
		Path:        "/api/controls",
		Summary:     "List Controls",
		Description: "Every control the camera offers with its range and current value. Exposure is in seconds, other controls in device units.",
		Tags:        []string{"controls"},
		Errors:      []int{401, 500, 503},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ControlListResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		ctrls := cam.Controls()
		caps := ctrls.Capabilities().All()
		list := make([]models.ControlData, 0, len(caps))
		for _, cc := range caps {
			info, err := ctrls.Describe(cc.Type)
			if err != nil {
				return nil, mapCameraError(err)
			}
			list = append(list, controlData(info))
		}
		return &models.ControlListResponse{
			Body: models.ControlListData{Controls: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-control",
		Method:      http.MethodGet,
		Path:        "/api/controls/{control}",
		Summary:     "Get Control",
		Description: "Read one control from the device",
		Tags:        []string{"controls"},
		Errors:      []int{401, 404, 500, 503},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ControlPathInput) (*models.ControlResponse, error) {
		cam, kind, err := s.control(input.Control)
		if err != nil {
			return nil, err
		}
		info, err := cam.Controls().Describe(kind)
		if err != nil {
			return nil, mapCameraError(err)
		}
		return &models.ControlResponse{Body: controlData(info)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-control",
		Method:      http.MethodPut,
		Path:        "/api/controls/{control}",
		Summary:     "Set Control",
		Description: "Write a control value, its auto mode, or both. Allowed while capturing; the response holds the value the device applied.",
		Tags:        []string{"controls"},
		Errors:      []int{401, 404, 422, 502, 503},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ControlUpdateRequest) (*models.ControlResponse, error) {
		if input.Body.Value == nil && input.Body.Auto == nil {
			return nil, huma.Error422UnprocessableEntity("value or auto is required")
		}
		cam, kind, err := s.control(input.Control)
		if err != nil {
			return nil, err
		}
		ctrls := cam.Controls()
		if input.Body.Value != nil {
			if err := ctrls.Set(kind, *input.Body.Value); err != nil {
				return nil, mapCameraError(err)
			}
		}
		if input.Body.Auto != nil {
			if err := ctrls.SetAuto(kind, *input.Body.Auto); err != nil {
				return nil, mapCameraError(err)
			}
		}
		info, err := ctrls.Describe(kind)
		if err != nil {
			return nil, mapCameraError(err)
		}
		return &models.ControlResponse{Body: controlData(info)}, nil
	})
}

// control resolves a control name against the open camera.
func (s *Server) control(name string) (CameraService, svb.ControlType, error) {
	cam, err := s.camera()
	if err != nil {
		return nil, 0, err
	}
	kind, err := svb.ParseControlType(name)
	if err != nil {
		return nil, 0, huma.Error404NotFound(err.Error())
	}
	return cam, kind, nil
}

func controlData(info camera.ControlInfo) models.ControlData {
	d := models.ControlData{
		Name:          info.Caps.Type.String(),
		Description:   info.Caps.Description,
		Value:         info.Value,
		Auto:          info.Auto,
		Min:           info.Min,
		Max:           info.Max,
		Default:       info.Default,
		AutoSupported: info.Caps.AutoSupported,
		Writable:      info.Caps.Writable,
	}
	if info.Caps.Type == svb.Exposure {
		d.Unit = "s"
	}
	return d
}
