package nats

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultPort is used when ServerOptions.Port is zero.
	DefaultPort = 4222
	// RandomPort asks the embedded server to pick a free port.
	RandomPort = server.RANDOM_PORT

	// Messages carry metadata and commands, never pixels.
	maxPayload = 64 * 1024
	readyWait  = 5 * time.Second

	// serviceUser is the identity given to clients that connect without
	// credentials.
	serviceUser = "svbcapture"
)

// ServerOptions configures the embedded NATS server.
type ServerOptions struct {
	Port int
	Host string
	// Name defaults to svbcapture-<hostname>.
	Name string
	// Open lifts the subject restrictions so other services can share the
	// server.
	Open   bool
	Logger *slog.Logger
}

// Server is an embedded NATS server for single-host setups. Unless Open is
// set, clients may only use the capture subjects and reply inboxes.
type Server struct {
	ns     *server.Server
	opts   ServerOptions
	logger *slog.Logger
}

// Subjects returns the subject patterns clients of a restricted server may
// publish and subscribe to.
func Subjects() []string {
	return []string{
		SubjectCamerasPrefix + ".>",
		SubjectControlPrefix + ".>",
		nats.InboxPrefix + ">",
	}
}

// NewServer prepares an embedded server. Nothing listens until Start.
func NewServer(opts ServerOptions) *Server {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Name == "" {
		opts.Name = defaultName()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		opts:   opts,
		logger: logger.With("component", "nats-server", "server", opts.Name),
	}
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return serviceUser
	}
	// Server names may not contain spaces.
	return serviceUser + "-" + strings.ReplaceAll(host, " ", "_")
}

// Name returns the name the server announces to clients.
func (s *Server) Name() string {
	return s.opts.Name
}

func (s *Server) serverOptions() *server.Options {
	o := &server.Options{
		Host:       s.opts.Host,
		Port:       s.opts.Port,
		ServerName: s.opts.Name,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: maxPayload,
	}
	if s.opts.Open {
		return o
	}
	allow := Subjects()
	o.Users = []*server.User{{
		Username: serviceUser,
		// Only reachable as the no-auth user.
		Password: uuid.NewString(),
		Permissions: &server.Permissions{
			Publish:   &server.SubjectPermission{Allow: allow},
			Subscribe: &server.SubjectPermission{Allow: allow},
		},
	}}
	o.NoAuthUser = serviceUser
	return o
}

// Start runs the server and waits until it accepts connections.
func (s *Server) Start() error {
	ns, err := server.NewServer(s.serverOptions())
	if err != nil {
		return fmt.Errorf("create nats server %s: %w", s.opts.Name, err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyWait) {
		ns.Shutdown()
		return fmt.Errorf("nats server %s not ready within %s", s.opts.Name, readyWait)
	}

	s.ns = ns
	s.logger.Info("NATS server started", "url", s.ClientURL(), "restricted", !s.opts.Open)
	return nil
}

// Stop shuts the server down and waits for it to exit.
func (s *Server) Stop() {
	if s.ns == nil {
		return
	}
	s.logger.Info("Stopping NATS server", "clients", s.ns.NumClients())
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.ns = nil
}

// ClientURL returns the URL the pipeline and control clients connect to.
func (s *Server) ClientURL() string {
	if s.ns == nil {
		return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
	}
	return s.ns.ClientURL()
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	if s.ns == nil {
		return 0
	}
	return s.ns.NumClients()
}
