package camera

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/svbcapture/pkg/svb"
	"github.com/smazurov/svbcapture/pkg/svb/sim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSDK returns a simulator with one camera producing frames every
// interval. Zero paces frames by exposure.
func newTestSDK(interval time.Duration) *sim.SDK {
	cam := sim.DefaultCamera()
	cam.FrameInterval = interval
	return sim.New(cam)
}

// openTest opens camera 0 with a small ROI and closes it at test end.
func openTest(t *testing.T, sdk *sim.SDK, opts ...Option) *Camera {
	t.Helper()
	base := []Option{
		WithLogger(testLogger()),
		WithROI(svb.ROI{Width: 64, Height: 32, Bin: 1}),
	}
	cam, err := Open(sdk, 0, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = cam.Close() })
	return cam
}

// waitForExit waits for the current run to end, failing the test on timeout.
func waitForExit(t *testing.T, cam *Camera, timeout time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- cam.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("timeout waiting for capture to end")
		return nil
	}
}

// recorder is a consumer that keeps frame metadata and a copy of the first
// bytes of each frame.
type recorder struct {
	mu     sync.Mutex
	frames []Frame
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1024)}
}

func (r *recorder) OnFrame(f Frame) error {
	f.Data = append([]byte(nil), f.Data[:16]...)
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *recorder) snapshot() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// waitFrames blocks until at least n frames were recorded.
func (r *recorder) waitFrames(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if len(r.snapshot()) >= n {
			return
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timeout waiting for %d frames, got %d", n, len(r.snapshot()))
		}
	}
}
