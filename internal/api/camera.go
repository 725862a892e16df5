package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/smazurov/svbcapture/internal/api/models"
	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/pkg/svb"
)

func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera",
		Method:      http.MethodGet,
		Path:        "/api/camera",
		Summary:     "Get Camera",
		Description: "Camera identity, sensor geometry, current readout settings and acquisition state",
		Tags:        []string{"camera"},
		Errors:      []int{401, 503},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CameraResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		return &models.CameraResponse{Body: cameraData(cam)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-roi",
		Method:      http.MethodPut,
		Path:        "/api/camera/roi",
		Summary:     "Set ROI",
		Description: "Change the readout region and binning. Rejected while capturing.",
		Tags:        []string{"camera"},
		Errors:      []int{401, 409, 422, 503},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ROIRequest) (*models.CameraResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		r := svb.ROI(input.Body)
		if err := cam.SetROI(r); err != nil {
			return nil, mapGeometryError(err)
		}
		return &models.CameraResponse{Body: cameraData(cam)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-image-type",
		Method:      http.MethodPut,
		Path:        "/api/camera/image-type",
		Summary:     "Set Image Type",
		Description: "Change the output image type. Rejected while capturing.",
		Tags:        []string{"camera"},
		Errors:      []int{401, 409, 422, 503},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ImageTypeRequest) (*models.CameraResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		t, err := svb.ParseImageType(input.Body.ImageType)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		if err := cam.SetImageType(t); err != nil {
			return nil, mapGeometryError(err)
		}
		return &models.CameraResponse{Body: cameraData(cam)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "soft-trigger",
		Method:        http.MethodPost,
		Path:          "/api/camera/trigger",
		Summary:       "Soft Trigger",
		Description:   "Request one exposure while the camera is in soft trigger mode",
		Tags:          []string{"camera"},
		Errors:        []int{401, 409, 500, 503},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
	}, func(_ context.Context, _ *struct{}) (*struct{}, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		if err := cam.SoftTrigger(); err != nil {
			return nil, mapCameraError(err)
		}
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restore-defaults",
		Method:      http.MethodPost,
		Path:        "/api/camera/defaults",
		Summary:     "Restore Defaults",
		Description: "Reset every control and the readout settings to factory values. Rejected while capturing.",
		Tags:        []string{"camera"},
		Errors:      []int{401, 409, 500, 503},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CameraResponse, error) {
		cam, err := s.camera()
		if err != nil {
			return nil, err
		}
		if err := cam.RestoreDefaults(); err != nil {
			return nil, mapCameraError(err)
		}
		return &models.CameraResponse{Body: cameraData(cam)}, nil
	})
}

func cameraData(cam CameraService) models.CameraData {
	info, prop := cam.Info(), cam.Property()
	formats := make([]string, len(prop.SupportedFormats))
	for i, f := range prop.SupportedFormats {
		formats[i] = f.String()
	}
	data := models.CameraData{
		Name:             info.FriendlyName,
		Serial:           info.SerialNumber,
		Port:             info.PortType,
		CameraID:         info.CameraID,
		MaxWidth:         prop.MaxWidth,
		MaxHeight:        prop.MaxHeight,
		Color:            prop.IsColor,
		MaxBitDepth:      prop.MaxBitDepth,
		PixelPitch:       cam.PixelPitch(),
		SupportedBins:    prop.SupportedBins,
		SupportedFormats: formats,
		Triggerable:      prop.IsTriggerable,
		ROI:              models.ROIData(cam.ROI()),
		ImageType:        cam.ImageType().String(),
		Mode:             cam.Mode().String(),
		Status:           captureData(cam.Status()),
	}
	if prop.IsColor {
		data.Bayer = prop.BayerPattern.String()
	}
	// Some firmware does not report drops; the field stays zero.
	if n, err := cam.DroppedFrames(); err == nil {
		data.DroppedFrames = n
	}
	return data
}

func captureData(st camera.Status) models.CaptureData {
	d := models.CaptureData{
		State:     string(st.State),
		StartedAt: st.StartedAt,
		Frames:    st.Frames,
		LastError: st.LastError,
	}
	if st.RunID != uuid.Nil {
		d.RunID = st.RunID.String()
	}
	return d
}
