// Package api serves the camera over HTTP with an OpenAPI description.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/svbcapture/internal/api/models"
	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/events"
	"github.com/smazurov/svbcapture/internal/logging"
	"github.com/smazurov/svbcapture/internal/version"
	"github.com/smazurov/svbcapture/pkg/svb"
)

// CameraService is the camera surface the API drives. *camera.Camera
// implements it.
type CameraService interface {
	Info() svb.CameraInfo
	Property() svb.Property
	PixelPitch() float32
	Label() string
	Controls() *camera.Controls
	ROI() svb.ROI
	ImageType() svb.ImageType
	Mode() svb.CameraMode
	SetROI(r svb.ROI) error
	SetImageType(t svb.ImageType) error
	SoftTrigger() error
	RestoreDefaults() error
	DroppedFrames() (int, error)
	Start(ctx context.Context) error
	Stop() error
	Done() <-chan struct{}
	Status() camera.Status
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string
	CORSOrigin   string

	Camera   CameraService
	EventBus *events.Bus
	Version  version.Info

	// RunContext bounds acquisition runs started over HTTP. Defaults to
	// context.Background.
	RunContext context.Context

	PrometheusHandler http.Handler // Optional Prometheus metrics handler
}

// Server is the HTTP API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	eventBus   *events.Bus
	runCtx     context.Context
	logger     *slog.Logger

	// base parents every request context; Stop cancels it to end event streams.
	base       context.Context
	cancelBase context.CancelFunc

	mu  sync.RWMutex
	cam CameraService
}

// NewServer creates the API and registers every route on a new ServeMux.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	origin := opts.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	// huma middleware only runs for registered operations.
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		setCORSHeaders(w.Header().Set, origin)
		w.WriteHeader(http.StatusNoContent)
	})

	config := huma.DefaultConfig("svbcapture API", "1.0.0")
	config.Info.Description = "Control and acquisition API for SVBony cameras"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}
	api := humago.New(mux, config)

	bus := opts.EventBus
	if bus == nil {
		bus = events.New()
	}
	runCtx := opts.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		api:        api,
		mux:        mux,
		options:    opts,
		eventBus:   bus,
		runCtx:     runCtx,
		logger:     logging.GetLogger("api"),
		base:       base,
		cancelBase: cancel,
		cam:        opts.Camera,
	}

	api.UseMiddleware(cors(origin))
	api.UseMiddleware(httpLogging(s.logger))
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(s.basicAuth(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	s.registerRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// API returns the huma API, for OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// SetCamera replaces the camera served by the API. Passing nil makes camera
// routes answer 503 until a camera is set again.
func (s *Server) SetCamera(cam CameraService) {
	s.mu.Lock()
	s.cam = cam
	s.mu.Unlock()
}

func (s *Server) camera() (CameraService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cam == nil {
		return nil, errNoCamera
	}
	return s.cam, nil
}

// Start listens on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop ends event streams and shuts the server down, waiting for in-flight
// requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.cancelBase()

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	if err := srv.Shutdown(ctx); err != nil {
		return srv.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		_, err := s.camera()
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
				Camera:  err == nil,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application and camera SDK version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := s.options.Version
		if info.Version == "" {
			info = version.Get()
		}
		return &models.VersionResponse{Body: info}, nil
	})

	s.registerCameraRoutes()
	s.registerControlRoutes()
	s.registerCaptureRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
