package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/svbcapture/pkg/svb"
	"github.com/smazurov/svbcapture/pkg/svb/sim"
)

func TestWaitTimeoutMs(t *testing.T) {
	tests := []struct {
		exposureUS int64
		want       int32
	}{
		{0, 500},
		{30_000, 560},
		{100_000, 700},
		{2_000_000_000, 4_000_500},
		{-5, 500},
	}
	for _, tt := range tests {
		if got := WaitTimeoutMs(tt.exposureUS); got != tt.want {
			t.Errorf("WaitTimeoutMs(%d) = %d, want %d", tt.exposureUS, got, tt.want)
		}
	}
}

func TestStopWhileIdle(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	cam := openTest(t, sdk)

	if err := cam.Stop(); err != nil {
		t.Errorf("Stop while idle = %v", err)
	}
	if n := sdk.Calls("StopCapture"); n != 0 {
		t.Errorf("StopCapture called %d times", n)
	}
	if err := cam.Wait(); err != nil {
		t.Errorf("Wait with no run = %v", err)
	}
	if s := cam.Status(); s.State != StateIdle {
		t.Errorf("state = %s, want idle", s.State)
	}
}

func TestStartStop(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	var (
		mu     sync.Mutex
		states []State
	)
	cam := openTest(t, sdk, WithStateListener(func(sc StateChange) {
		mu.Lock()
		states = append(states, sc.State)
		mu.Unlock()
	}))
	rec := newRecorder()
	cam.Dispatcher().Register("rec", rec)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitFrames(t, 5, 2*time.Second)
	if s := cam.Status(); s.State != StateCapturing {
		t.Errorf("state = %s, want capturing", s.State)
	}

	if err := cam.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := waitForExit(t, cam, time.Second); err != nil {
		t.Errorf("Wait = %v, want nil after Stop", err)
	}
	if sdk.Capturing(0) {
		t.Error("device still streaming after Stop")
	}
	if n := sdk.Calls("StopCapture"); n != 1 {
		t.Errorf("StopCapture called %d times, want 1", n)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateCapturing, StateStopping, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}
}

// With a 100 ms exposure every read waits 700 ms and two consumers see every
// frame exactly once, in order.
func TestExposureDrivesTimeoutAndDelivery(t *testing.T) {
	sdk := newTestSDK(0)
	cam := openTest(t, sdk)

	if err := cam.Controls().SetExposure(100 * time.Millisecond); err != nil {
		t.Fatalf("SetExposure: %v", err)
	}
	a, b := newRecorder(), newRecorder()
	cam.Dispatcher().Register("a", a)
	cam.Dispatcher().Register("b", b)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.waitFrames(t, 3, 2*time.Second)

	if got := sdk.LastWaitMs(0); got != 700 {
		t.Errorf("read timeout = %d ms, want 700", got)
	}

	stopped := time.Now()
	_ = cam.Stop()
	if err := waitForExit(t, cam, 2*time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(stopped); elapsed > 700*time.Millisecond+500*time.Millisecond {
		t.Errorf("stop took %v, longer than the read timeout plus slack", elapsed)
	}

	fa, fb := a.snapshot(), b.snapshot()
	if len(fa) != len(fb) {
		t.Fatalf("consumer a got %d frames, b got %d", len(fa), len(fb))
	}
	for i := range fa {
		want := uint64(i + 1)
		if fa[i].Seq != want || fb[i].Seq != want {
			t.Errorf("frame %d: seq a=%d b=%d, want %d", i, fa[i].Seq, fb[i].Seq, want)
		}
		if got := sim.FrameSeq(fa[i].Data); got != want {
			t.Errorf("frame %d carries device seq %d, want %d", i, got, want)
		}
		if fa[i].Exposure != 100*time.Millisecond {
			t.Errorf("frame %d exposure = %v", i, fa[i].Exposure)
		}
	}
}

func TestDoubleStart(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	cam := openTest(t, sdk)
	rec := newRecorder()
	cam.Dispatcher().Register("rec", rec)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := cam.Start(context.Background())
	if !errors.Is(err, ErrStreamingActive) || !errors.Is(err, svb.ErrVideoModeActive) {
		t.Fatalf("second Start = %v, want streaming active", err)
	}
	if n := sdk.Calls("StartCapture"); n != 1 {
		t.Errorf("StartCapture called %d times, want 1", n)
	}

	before := len(rec.snapshot())
	rec.waitFrames(t, before+3, 2*time.Second)

	_ = cam.Stop()
	if err := waitForExit(t, cam, time.Second); err != nil {
		t.Errorf("first run ended with %v", err)
	}
}

func TestStartWhileStopping(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	cam := openTest(t, sdk)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	cam.Dispatcher().RegisterFunc("blocker", func(Frame) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	})

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-entered
	_ = cam.Stop()

	if s := cam.Status(); s.State != StateStopping {
		t.Errorf("state = %s, want stopping", s.State)
	}
	if err := cam.Start(context.Background()); !errors.Is(err, ErrStreamingActive) {
		t.Errorf("Start while stopping = %v", err)
	}

	close(release)
	if err := waitForExit(t, cam, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start after stop: %v", err)
	}
	_ = cam.Stop()
	_ = waitForExit(t, cam, time.Second)
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	sdk := newTestSDK(time.Millisecond)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cam := openTest(t, sdk, WithClock(func() time.Time { return fixed }))
	rec := newRecorder()
	cam.Dispatcher().Register("rec", rec)

	_ = cam.Start(context.Background())
	rec.waitFrames(t, 10, 2*time.Second)
	_ = cam.Stop()
	_ = waitForExit(t, cam, time.Second)

	frames := rec.snapshot()
	for i := 1; i < len(frames); i++ {
		if !frames[i].Timestamp.After(frames[i-1].Timestamp) {
			t.Errorf("timestamp %d (%v) not after %d (%v)", i, frames[i].Timestamp, i-1, frames[i-1].Timestamp)
		}
		if frames[i].Seq != frames[i-1].Seq+1 {
			t.Errorf("seq %d follows %d", frames[i].Seq, frames[i-1].Seq)
		}
	}
}

func TestBufferRotation(t *testing.T) {
	sdk := newTestSDK(time.Millisecond)
	cam := openTest(t, sdk, WithBufferCount(3))

	var (
		mu    sync.Mutex
		slots []*byte
	)
	done := make(chan struct{})
	cam.Dispatcher().RegisterFunc("slots", func(f Frame) error {
		mu.Lock()
		defer mu.Unlock()
		if len(f.Data) != 64*32*2 {
			t.Errorf("frame size = %d", len(f.Data))
		}
		slots = append(slots, &f.Data[0])
		if len(slots) == 7 {
			close(done)
		}
		return nil
	})

	_ = cam.Start(context.Background())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frames")
	}
	_ = cam.Stop()
	_ = waitForExit(t, cam, time.Second)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < 7; i++ {
		if slots[i] == slots[i-1] {
			t.Errorf("frames %d and %d share a buffer", i-1, i)
		}
	}
	if slots[0] != slots[3] || slots[3] != slots[6] {
		t.Error("pool of three did not rotate back to the first buffer")
	}
}

func TestFatalReadEndsRun(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	cam := openTest(t, sdk)
	rec := newRecorder()
	cam.Dispatcher().Register("rec", rec)

	sdk.FailFrameAfter(2, svb.ErrBufferTooSmall)
	_ = cam.Start(context.Background())

	err := waitForExit(t, cam, 2*time.Second)
	if !errors.Is(err, svb.ErrBufferTooSmall) {
		t.Fatalf("Wait = %v, want buffer too small", err)
	}
	if got := len(rec.snapshot()); got != 2 {
		t.Errorf("delivered %d frames, want 2", got)
	}
	if n := sdk.Calls("StopCapture"); n != 1 {
		t.Errorf("StopCapture called %d times, want 1", n)
	}
	if sdk.Capturing(0) {
		t.Error("device left streaming after fatal error")
	}
	if s := cam.Status(); s.State != StateIdle || s.LastError == "" {
		t.Errorf("status = %+v", s)
	}

	// Stop after the loop already ended does nothing.
	_ = cam.Stop()
	if n := sdk.Calls("StopCapture"); n != 1 {
		t.Errorf("StopCapture called %d times after late Stop", n)
	}
}

func TestTimeoutWhileRunningIsFatal(t *testing.T) {
	sdk := newTestSDK(5 * time.Second)
	cam := openTest(t, sdk)
	if err := cam.Controls().SetExposure(time.Millisecond); err != nil {
		t.Fatal(err)
	}

	_ = cam.Start(context.Background())
	err := waitForExit(t, cam, 2*time.Second)
	if !errors.Is(err, svb.ErrTimeout) {
		t.Errorf("Wait = %v, want timeout", err)
	}
}

func TestUnplugDuringCapture(t *testing.T) {
	sdk := newTestSDK(time.Hour)
	cam := openTest(t, sdk)

	_ = cam.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	sdk.Unplug(0)

	err := waitForExit(t, cam, time.Second)
	if !errors.Is(err, svb.ErrCameraRemoved) {
		t.Errorf("Wait = %v, want camera removed", err)
	}
}

func TestConsumerFailureDoesNotStopCapture(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	cam := openTest(t, sdk)
	cam.Dispatcher().RegisterFunc("broken", func(Frame) error { return errors.New("nope") })
	cam.Dispatcher().RegisterFunc("panics", func(Frame) error { panic("bad consumer") })
	rec := newRecorder()
	cam.Dispatcher().Register("rec", rec)

	_ = cam.Start(context.Background())
	rec.waitFrames(t, 5, 2*time.Second)
	_ = cam.Stop()
	if err := waitForExit(t, cam, time.Second); err != nil {
		t.Errorf("Wait = %v", err)
	}

	stats := cam.Dispatcher().Stats()
	if stats[0].Failed < 5 || stats[1].Failed < 5 || stats[2].Delivered < 5 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestContextCancelStops(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	cam := openTest(t, sdk)

	ctx, cancel := context.WithCancel(context.Background())
	_ = cam.Start(ctx)
	cancel()

	if err := waitForExit(t, cam, time.Second); err != nil {
		t.Errorf("Wait = %v", err)
	}
}

func TestCloseDuringCapture(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	cam, err := Open(sdk, 0, WithLogger(testLogger()), WithROI(svb.ROI{Width: 64, Height: 32, Bin: 1}))
	if err != nil {
		t.Fatal(err)
	}
	_ = cam.Start(context.Background())

	if err := cam.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sdk.IsOpen(0) {
		t.Error("device still open after Close")
	}
	if err := cam.Wait(); err != nil {
		t.Errorf("Wait after Close = %v", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := cam.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v", err)
	}
}

func TestBlockedStateListenerDoesNotHoldStartStop(t *testing.T) {
	sdk := newTestSDK(2 * time.Millisecond)
	release := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(release) })

	var (
		mu     sync.Mutex
		states []State
	)
	cam := openTest(t, sdk, WithStateListener(func(sc StateChange) {
		<-release
		mu.Lock()
		states = append(states, sc.State)
		mu.Unlock()
	}))
	t.Cleanup(unblock)

	begin := time.Now()
	if err := cam.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := cam.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if d := time.Since(begin); d > 500*time.Millisecond {
		t.Errorf("Start+Stop took %v with a blocked listener", d)
	}
	if sdk.Capturing(0) {
		t.Error("device still streaming while the listener is blocked")
	}

	unblock()
	if err := waitForExit(t, cam, 2*time.Second); err != nil {
		t.Errorf("Wait = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []State{StateCapturing, StateStopping, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestStateOrderWithConcurrentStop(t *testing.T) {
	sdk := newTestSDK(time.Millisecond)
	var (
		mu   sync.Mutex
		runs = map[string][]State{}
	)
	cam := openTest(t, sdk, WithStateListener(func(sc StateChange) {
		mu.Lock()
		runs[sc.RunID.String()] = append(runs[sc.RunID.String()], sc.State)
		mu.Unlock()
	}))

	for range 50 {
		stopped := make(chan struct{})
		go func() {
			_ = cam.Stop()
			close(stopped)
		}()
		if err := cam.Start(context.Background()); err != nil && !errors.Is(err, ErrStreamingActive) {
			t.Fatalf("Start: %v", err)
		}
		<-stopped
		_ = cam.Stop()
		_ = waitForExit(t, cam, 2*time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	for id, states := range runs {
		if states[0] != StateCapturing || states[len(states)-1] != StateIdle {
			t.Errorf("run %s states = %v", id, states)
			continue
		}
		if len(states) == 3 && states[1] != StateStopping {
			t.Errorf("run %s states = %v", id, states)
		}
	}
}

// stopDuringRead stops the camera from inside a frame read, as when Stop
// lands between the loop's running check and the device call.
type stopDuringRead struct {
	*sim.SDK
	cam  atomic.Pointer[Camera]
	once sync.Once
}

func (s *stopDuringRead) VideoData(id int32, buf []byte, waitMs int32) error {
	s.once.Do(func() { _ = s.cam.Load().Stop() })
	return s.SDK.VideoData(id, buf, waitMs)
}

func TestStopDuringReadIsClean(t *testing.T) {
	sdk := &stopDuringRead{SDK: newTestSDK(2 * time.Millisecond)}
	cam, err := Open(sdk, 0, WithLogger(testLogger()), WithROI(svb.ROI{Width: 64, Height: 32, Bin: 1}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cam.Close() })
	sdk.cam.Store(cam)

	if err := cam.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := waitForExit(t, cam, 2*time.Second); err != nil {
		t.Errorf("Wait = %v, want nil for a stop during a read", err)
	}
	if s := cam.Status(); s.LastError != "" {
		t.Errorf("LastError = %q", s.LastError)
	}
	if n := sdk.Calls("StopCapture"); n != 1 {
		t.Errorf("StopCapture called %d times, want 1", n)
	}
}
