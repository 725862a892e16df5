package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/events"
	svbnats "github.com/smazurov/svbcapture/internal/nats"
	"github.com/smazurov/svbcapture/pkg/svb"
	"github.com/smazurov/svbcapture/pkg/svb/sim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openSim(t *testing.T, opts ...camera.Option) *camera.Camera {
	t.Helper()
	spec := sim.DefaultCamera()
	spec.FrameInterval = 2 * time.Millisecond
	opts = append([]camera.Option{
		camera.WithLogger(testLogger()),
		camera.WithROI(svb.ROI{Width: 64, Height: 32, Bin: 1}),
	}, opts...)
	cam, err := camera.Open(sim.New(spec), 0, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = cam.Close() })
	return cam
}

func TestEmptyConfig(t *testing.T) {
	p, err := New(context.Background(), Config{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 0 {
		t.Errorf("Len = %d, want 0", p.Len())
	}
	if len(p.Summary()) != 0 {
		t.Errorf("Summary = %v", p.Summary())
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPipelineRecordsRun(t *testing.T) {
	dir := t.TempDir()
	bus := events.New()

	states := make(chan events.CaptureStateChangedEvent, 16)
	defer bus.Subscribe(func(e events.CaptureStateChangedEvent) { states <- e })()
	frames := make(chan events.FrameCapturedEvent, 64)
	defer bus.Subscribe(func(e events.FrameCapturedEvent) {
		select {
		case frames <- e:
		default:
		}
	})()

	p, err := New(context.Background(), Config{
		RawPath:    filepath.Join(dir, "run.raw"),
		RawZstd:    true,
		RawIndex:   true,
		TIFFDir:    filepath.Join(dir, "tiff"),
		TIFFEvery:  5,
		EventEvery: 1,
	}, bus, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 3 {
		t.Fatalf("Len = %d, want 3", p.Len())
	}

	cam := openSim(t, p.CameraOptions()...)
	p.Attach(cam.Dispatcher())
	if got := cam.Dispatcher().Len(); got != 3 {
		t.Fatalf("dispatcher has %d consumers, want 3", got)
	}

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for cam.Status().Frames < 10 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for frames")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := cam.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	p.Detach()
	if got := cam.Dispatcher().Len(); got != 0 {
		t.Errorf("dispatcher has %d consumers after Detach", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	n, size := p.Raw.Stats()
	if n < 10 || size == 0 {
		t.Errorf("raw stats = %d frames, %d bytes", n, size)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.raw")); err != nil {
		t.Errorf("raw file: %v", err)
	}
	if p.TIFF.Written() < 2 {
		t.Errorf("tiff written = %d, want at least 2", p.TIFF.Written())
	}
	if last, ok := p.TIFF.Last(); !ok || filepath.Dir(last) != filepath.Join(dir, "tiff") {
		t.Errorf("tiff last = %q, %v", last, ok)
	}

	summary := p.Summary()
	if len(summary)%2 != 0 || len(summary) < 6 {
		t.Errorf("summary = %v", summary)
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !seen["capturing"] || !seen["idle"] {
		select {
		case e := <-states:
			seen[e.State] = true
		case <-timeout:
			t.Fatalf("state events = %v, want capturing and idle", seen)
		}
	}
	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Error("no frame events published")
	}
}

func TestNewClosesOnError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := New(context.Background(), Config{
		RawPath: filepath.Join(dir, "run.raw"),
		TIFFDir: filepath.Join(blocker, "tiff"),
	}, nil, testLogger())
	if err == nil {
		_ = p.Close()
		t.Fatal("expected error for a snapshot dir below a file")
	}
	if p != nil {
		t.Error("pipeline returned with error")
	}
	// The raw file was created then closed; removing it must succeed.
	if err := os.Remove(filepath.Join(dir, "run.raw")); err != nil {
		t.Errorf("remove raw file: %v", err)
	}
}

func TestMQTTConnectCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// Nothing listens on port 1 and reconnect keeps retrying until ctx ends.
	_, err := New(ctx, Config{MQTTBroker: "tcp://127.0.0.1:1"}, nil, testLogger())
	if err == nil {
		t.Fatal("expected connect error")
	}
}

func TestPipelinePublishesToNATS(t *testing.T) {
	srv := svbnats.NewServer(svbnats.ServerOptions{Port: svbnats.RandomPort})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	sub, err := svbnats.Connect(srv.ClientURL(), "pipeline-test", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	frames, err := sub.SubscribeSync(svbnats.SubjectCamerasPrefix + ".*.frames")
	if err != nil {
		t.Fatal(err)
	}
	states, err := sub.SubscribeSync(svbnats.SubjectCamerasPrefix + ".*.state")
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	p, err := New(context.Background(), Config{NATSURL: srv.ClientURL(), NATSEvery: 2}, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if p.NATSConn() == nil || p.Len() != 1 {
		t.Fatalf("nats not configured: conn=%v len=%d", p.NATSConn(), p.Len())
	}

	cam := openSim(t, p.CameraOptions()...)
	p.Attach(cam.Dispatcher())
	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	msg, err := frames.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("frame message: %v", err)
	}
	if msg.Subject != svbnats.SubjectFrames(cam.Label()) {
		t.Errorf("subject = %q", msg.Subject)
	}
	if err := cam.Stop(); err != nil {
		t.Fatal(err)
	}

	msg, err = states.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("state message: %v", err)
	}
	if st, err := svbnats.UnmarshalState(msg.Data); err != nil || st.State != "capturing" {
		t.Errorf("first state = %+v, %v", st, err)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if published, _ := p.NATS.Stats(); published == 0 {
		t.Error("no frames published")
	}
}

func TestNATSUnavailable(t *testing.T) {
	if _, err := New(context.Background(), Config{NATSURL: "nats://127.0.0.1:1"}, nil, testLogger()); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestDefaultClientID(t *testing.T) {
	a, b := defaultClientID(), defaultClientID()
	if a == b {
		t.Errorf("client ids collide: %s", a)
	}
}
