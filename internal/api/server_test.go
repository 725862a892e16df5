package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/events"
	"github.com/smazurov/svbcapture/internal/logging"
	"github.com/smazurov/svbcapture/internal/metrics/exporters"
	"github.com/smazurov/svbcapture/internal/sinks"
	"github.com/smazurov/svbcapture/pkg/svb"
	"github.com/smazurov/svbcapture/pkg/svb/sim"
)

const (
	testUser = "test"
	testPass = "secret"
)

type testEnv struct {
	srv *Server
	ts  *httptest.Server
	cam *camera.Camera
	bus *events.Bus
}

// newTestEnv serves a simulated camera producing a frame every 2ms.
func newTestEnv(t *testing.T, withCamera bool) *testEnv {
	t.Helper()
	bus := events.New()
	env := &testEnv{bus: bus}

	opts := &Options{
		AuthUsername:      testUser,
		AuthPassword:      testPass,
		EventBus:          bus,
		PrometheusHandler: exporters.HTTPHandler(),
	}
	if withCamera {
		spec := sim.DefaultCamera()
		spec.FrameInterval = 2 * time.Millisecond
		cam, err := camera.Open(sim.New(spec), 0,
			camera.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			camera.WithROI(svb.ROI{Width: 64, Height: 32, Bin: 1}),
			camera.WithStateListener(sinks.StateEvents(bus)),
			camera.WithControlListener(sinks.ControlEvents(bus)),
		)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = cam.Close() })
		env.cam = cam
		opts.Camera = cam
	}

	env.srv = NewServer(opts)
	env.ts = httptest.NewUnstartedServer(env.srv.Handler())
	env.ts.Config.BaseContext = func(net.Listener) context.Context { return env.srv.base }
	env.ts.Start()
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, auth bool) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth(testUser, testPass)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func (e *testEnv) expect(t *testing.T, method, path, body string, want int) []byte {
	t.Helper()
	resp, data := e.do(t, method, path, body, true)
	if resp.StatusCode != want {
		t.Fatalf("%s %s = %d, want %d: %s", method, path, resp.StatusCode, want, data)
	}
	return data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "health is public", path: "/api/health", want: http.StatusOK},
		{name: "version is public", path: "/api/version", want: http.StatusOK},
		{name: "camera needs auth", path: "/api/camera", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/api/camera", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "bad base64", path: "/api/camera", header: "Basic !!!", want: http.StatusUnauthorized},
		{
			name:   "wrong password",
			path:   "/api/camera",
			header: "Basic " + base64.StdEncoding.EncodeToString([]byte("test:nope")),
			want:   http.StatusUnauthorized,
		},
		{
			name:   "valid credentials",
			path:   "/api/camera",
			header: "Basic " + base64.StdEncoding.EncodeToString([]byte(testUser+":"+testPass)),
			want:   http.StatusOK,
		},
		{
			name: "query credentials",
			path: "/api/capture/status?auth=" + base64.StdEncoding.EncodeToString([]byte(testUser+":"+testPass)),
			want: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.ts.URL+tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestNoCamera(t *testing.T) {
	env := newTestEnv(t, false)

	health := decode[struct{ Camera bool }](t, env.expect(t, http.MethodGet, "/api/health", "", http.StatusOK))
	if health.Camera {
		t.Error("health reports a camera")
	}
	for _, path := range []string{"/api/camera", "/api/controls", "/api/capture/status"} {
		env.expect(t, http.MethodGet, path, "", http.StatusServiceUnavailable)
	}
	env.expect(t, http.MethodPost, "/api/capture/start", "", http.StatusServiceUnavailable)
}

func TestGetCamera(t *testing.T) {
	env := newTestEnv(t, true)

	got := decode[struct {
		Serial           string   `json:"serial"`
		MaxWidth         int32    `json:"max_width"`
		SupportedFormats []string `json:"supported_formats"`
		ImageType        string   `json:"image_type"`
		ROI              struct {
			Width int32 `json:"width"`
		} `json:"roi"`
		Status struct {
			State string `json:"state"`
		} `json:"status"`
	}](t, env.expect(t, http.MethodGet, "/api/camera", "", http.StatusOK))

	if got.Serial != "SIM0000001" || got.MaxWidth != 1920 || got.ROI.Width != 64 {
		t.Errorf("camera = %+v", got)
	}
	if got.ImageType != "RAW16" || len(got.SupportedFormats) != 4 {
		t.Errorf("formats = %v, type = %s", got.SupportedFormats, got.ImageType)
	}
	if got.Status.State != "idle" {
		t.Errorf("state = %s", got.Status.State)
	}
}

type controlBody struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
	Auto  bool    `json:"auto"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func TestControls(t *testing.T) {
	env := newTestEnv(t, true)

	list := decode[struct {
		Controls []controlBody `json:"controls"`
		Count    int           `json:"count"`
	}](t, env.expect(t, http.MethodGet, "/api/controls", "", http.StatusOK))
	if list.Count != len(sim.DefaultControls()) || len(list.Controls) != list.Count {
		t.Errorf("count = %d, controls = %d", list.Count, len(list.Controls))
	}

	exp := decode[controlBody](t, env.expect(t, http.MethodGet, "/api/controls/exposure", "", http.StatusOK))
	if exp.Unit != "s" || exp.Value != 0.03 || exp.Max != 2000 {
		t.Errorf("exposure = %+v", exp)
	}

	tests := []struct {
		name    string
		control string
		body    string
		want    int
		value   float64
		auto    bool
	}{
		{name: "set gain", control: "gain", body: `{"value":30}`, want: http.StatusOK, value: 30},
		{name: "device clamps", control: "Gain", body: `{"value":500}`, want: http.StatusOK, value: 100},
		{name: "exposure seconds", control: "exposure", body: `{"value":0.1}`, want: http.StatusOK, value: 0.1},
		{name: "auto only", control: "gain", body: `{"auto":true}`, want: http.StatusOK, value: 100, auto: true},
		{name: "unknown control", control: "focus", body: `{"value":1}`, want: http.StatusNotFound},
		{name: "unsupported control", control: "cooler_enable", body: `{"value":1}`, want: http.StatusNotFound},
		{name: "read-only control", control: "current_temperature", body: `{"value":1}`, want: http.StatusUnprocessableEntity},
		{name: "auto not supported", control: "gamma", body: `{"auto":true}`, want: http.StatusNotFound},
		{name: "empty update", control: "gain", body: `{}`, want: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := env.expect(t, http.MethodPut, "/api/controls/"+tt.control, tt.body, tt.want)
			if tt.want != http.StatusOK {
				return
			}
			got := decode[controlBody](t, data)
			if got.Value != tt.value || got.Auto != tt.auto {
				t.Errorf("control = %+v, want value %v auto %v", got, tt.value, tt.auto)
			}
		})
	}

	if d := env.cam.Controls().CachedExposure(); d != 100*time.Millisecond {
		t.Errorf("cached exposure = %v", d)
	}
}

func TestCaptureLifecycle(t *testing.T) {
	env := newTestEnv(t, true)

	st := decode[struct {
		State string `json:"state"`
		RunID string `json:"run_id"`
	}](t, env.expect(t, http.MethodPost, "/api/capture/start", "", http.StatusAccepted))
	if st.State != "capturing" || st.RunID == "" {
		t.Fatalf("start = %+v", st)
	}

	env.expect(t, http.MethodPost, "/api/capture/start", "", http.StatusConflict)
	env.expect(t, http.MethodPut, "/api/camera/roi", `{"start_x":0,"start_y":0,"width":32,"height":16,"bin":1}`, http.StatusConflict)
	// Controls stay writable mid-run.
	env.expect(t, http.MethodPut, "/api/controls/gain", `{"value":20}`, http.StatusOK)

	deadline := time.Now().Add(2 * time.Second)
	for env.cam.Status().Frames < 3 {
		if time.Now().After(deadline) {
			t.Fatal("no frames delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopped := decode[struct {
		State  string `json:"state"`
		RunID  string `json:"run_id"`
		Frames uint64 `json:"frames"`
	}](t, env.expect(t, http.MethodPost, "/api/capture/stop?wait=true", "", http.StatusOK))
	if stopped.State != "idle" || stopped.RunID != st.RunID || stopped.Frames < 3 {
		t.Errorf("stop = %+v", stopped)
	}

	m := decode[struct {
		Frames uint64 `json:"frames"`
	}](t, env.expect(t, http.MethodGet, "/api/capture/metrics", "", http.StatusOK))
	if m.Frames == 0 {
		t.Error("metrics report no frames")
	}

	env.expect(t, http.MethodPost, "/api/capture/stop", "", http.StatusOK)
}

func TestSetROI(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "binned region", body: `{"start_x":0,"start_y":0,"width":640,"height":480,"bin":2}`, want: http.StatusOK},
		{name: "unsupported bin", body: `{"start_x":0,"start_y":0,"width":640,"height":480,"bin":3}`, want: http.StatusUnprocessableEntity},
		{name: "out of bounds", body: `{"start_x":1800,"start_y":0,"width":640,"height":480,"bin":1}`, want: http.StatusUnprocessableEntity},
		{name: "zero width", body: `{"start_x":0,"start_y":0,"width":0,"height":480,"bin":1}`, want: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.expect(t, http.MethodPut, "/api/camera/roi", tt.body, tt.want)
		})
	}

	if r := env.cam.ROI(); r.Width != 640 || r.Bin != 2 {
		t.Errorf("ROI = %s", r)
	}

	env.expect(t, http.MethodPut, "/api/camera/image-type", `{"image_type":"raw8"}`, http.StatusOK)
	env.expect(t, http.MethodPut, "/api/camera/image-type", `{"image_type":"rgb24"}`, http.StatusUnprocessableEntity)
	env.expect(t, http.MethodPut, "/api/camera/image-type", `{"image_type":"jpeg"}`, http.StatusUnprocessableEntity)
	if got := env.cam.ImageType(); got != svb.ImageRaw8 {
		t.Errorf("image type = %s", got)
	}
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t, false)

	logger := logging.GetLogger("apitest")
	for i := range 3 {
		logger.Info(fmt.Sprintf("entry %d", i))
	}

	got := decode[struct {
		Entries []logging.Entry `json:"entries"`
		Count   int             `json:"count"`
	}](t, env.expect(t, http.MethodGet, "/api/logs?module=apitest&tail=2", "", http.StatusOK))
	if got.Count != 2 || got.Entries[0].Message != "entry 1" || got.Entries[1].Message != "entry 2" {
		t.Errorf("logs = %+v", got)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	env := newTestEnv(t, true)
	if err := env.cam.Controls().SetGain(42); err != nil {
		t.Fatal(err)
	}

	resp, data := env.do(t, http.MethodGet, "/metrics", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), `svbcapture_controls_value{camera="SIM0000001",control="gain"} 42`) {
		t.Errorf("gain gauge missing from /metrics")
	}
}

func TestSSEEvents(t *testing.T) {
	env := newTestEnv(t, true)

	creds := base64.StdEncoding.EncodeToString([]byte(testUser + ":" + testPass))
	resp, err := http.Get(env.ts.URL + "/api/events?auth=" + creds)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content type = %s", ct)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data:") {
				lines <- line
			}
		}
	}()

	next := func(what string) string {
		t.Helper()
		select {
		case line := <-lines:
			return line
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", what)
			return ""
		}
	}

	if msg := next("initial state"); !strings.Contains(msg, `"state":"idle"`) {
		t.Errorf("initial message = %s", msg)
	}

	env.expect(t, http.MethodPut, "/api/controls/gain", `{"value":12}`, http.StatusOK)
	if msg := next("control event"); !strings.Contains(msg, `"control":"gain"`) || !strings.Contains(msg, `"value":12`) {
		t.Errorf("control message = %s", msg)
	}

	env.bus.Publish(events.DeviceHotplugEvent{Action: "remove", ProductID: "9a0a"})
	if msg := next("hotplug event"); !strings.Contains(msg, `"action":"remove"`) {
		t.Errorf("hotplug message = %s", msg)
	}
}

func TestServerStopEndsStreams(t *testing.T) {
	env := newTestEnv(t, false)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/events", nil)
	req.SetBasicAuth(testUser, testPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		close(done)
	}()

	if err := env.srv.Stop(t.Context()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event stream still open after Stop")
	}
}
