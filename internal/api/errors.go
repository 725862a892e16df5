package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/pkg/svb"
)

var errNoCamera = huma.Error503ServiceUnavailable("no camera connected")

// mapCameraError converts camera errors into HTTP status errors.
func mapCameraError(err error) error {
	switch {
	case errors.Is(err, camera.ErrNotSupported):
		return huma.Error404NotFound(err.Error(), err)
	case errors.Is(err, camera.ErrStreamingActive), errors.Is(err, svb.ErrVideoModeActive):
		return huma.Error409Conflict(err.Error(), err)
	case errors.Is(err, camera.ErrOutOfRange), errors.Is(err, camera.ErrReadOnly):
		return huma.Error422UnprocessableEntity(err.Error(), err)
	case errors.Is(err, camera.ErrDeviceRejected):
		return huma.Error502BadGateway(err.Error(), err)
	case errors.Is(err, camera.ErrClosed), errors.Is(err, svb.ErrCameraRemoved), errors.Is(err, svb.ErrCameraClosed):
		return huma.Error503ServiceUnavailable(err.Error(), err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}

// mapGeometryError is mapCameraError for ROI and image type requests, where
// an unsupported or out of bounds setting is a client mistake.
func mapGeometryError(err error) error {
	switch {
	case errors.Is(err, camera.ErrNotSupported),
		errors.Is(err, svb.ErrInvalidSize),
		errors.Is(err, svb.ErrOutOfBoundary),
		errors.Is(err, svb.ErrInvalidImageType):
		return huma.Error422UnprocessableEntity(err.Error(), err)
	}
	return mapCameraError(err)
}
