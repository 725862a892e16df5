// Package sim implements svb.SDK in memory. It produces synthetic frames at a
// fixed cadence, clamps control writes the way real firmware does and lets
// tests inject device faults and count calls.
package sim

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/smazurov/svbcapture/pkg/svb"
)

// Camera describes one simulated device.
type Camera struct {
	Info      svb.CameraInfo
	Property  svb.Property
	Controls  []svb.ControlCaps
	PixelSize float32
	TempCtrl  bool

	// FrameInterval is the delay between frames. Zero paces frames by the
	// current exposure value.
	FrameInterval time.Duration
}

// DefaultCamera is a monochrome 16-bit sensor resembling an SV305-class camera.
func DefaultCamera() Camera {
	return Camera{
		Info: svb.CameraInfo{
			FriendlyName: "SVBONY SV305M",
			SerialNumber: "SIM0000001",
			PortType:     "USB3.0",
			DeviceID:     0x9a0a,
			CameraID:     0,
		},
		Property: svb.Property{
			MaxWidth:         1920,
			MaxHeight:        1080,
			IsColor:          false,
			BayerPattern:     svb.BayerRG,
			SupportedBins:    []int32{1, 2},
			SupportedFormats: []svb.ImageType{svb.ImageRaw8, svb.ImageRaw12, svb.ImageRaw16, svb.ImageY8},
			MaxBitDepth:      12,
			IsTriggerable:    true,
		},
		Controls:  DefaultControls(),
		PixelSize: 2.9,
	}
}

// DefaultControls is a representative capability set. Gain is limited to
// [0, 100] and exposure is in microseconds.
func DefaultControls() []svb.ControlCaps {
	return []svb.ControlCaps{
		{Type: svb.Gain, Name: "Gain", Description: "Gain", Min: 0, Max: 100, Default: 10, AutoSupported: true, Writable: true},
		{Type: svb.Exposure, Name: "Exposure", Description: "Exposure Time(us)", Min: 29, Max: 2_000_000_000, Default: 30_000, AutoSupported: true, Writable: true},
		{Type: svb.Gamma, Name: "Gamma", Description: "Gamma", Min: 0, Max: 1000, Default: 100, Writable: true},
		{Type: svb.Contrast, Name: "Contrast", Description: "Contrast", Min: 0, Max: 100, Default: 50, Writable: true},
		{Type: svb.Sharpness, Name: "Sharpness", Description: "Sharpness", Min: 0, Max: 100, Default: 0, Writable: true},
		{Type: svb.FrameSpeedMode, Name: "FrameSpeed", Description: "Frame speed mode", Min: 0, Max: 2, Default: 1, Writable: true},
		{Type: svb.Flip, Name: "Flip", Description: "Flip", Min: 0, Max: 3, Default: 0, Writable: true},
		{Type: svb.BlackLevel, Name: "Offset", Description: "Black level offset", Min: 0, Max: 255, Default: 10, Writable: true},
		{Type: svb.CurrentTemperature, Name: "Temperature", Description: "Sensor temperature (0.1 C)", Min: -500, Max: 1000, Default: 250},
	}
}

type device struct {
	spec    Camera
	open    bool
	removed bool

	values  map[svb.ControlType]svb.ControlValue
	roi     svb.ROI
	imgType svb.ImageType
	mode    svb.CameraMode

	capturing bool
	stop      chan struct{}
	next      time.Time
	seq       uint64
	dropped   int
	lastWait  int32
	trigger   chan struct{}
}

// SDK is a simulated vendor SDK. The zero value has no cameras; use New.
type SDK struct {
	mu      sync.Mutex
	devices []*device
	calls   map[string]int
	faults  faults
}

// New returns an SDK exposing the given cameras. Camera IDs are assigned from
// the slice index.
func New(cams ...Camera) *SDK {
	s := &SDK{calls: make(map[string]int)}
	for i, c := range cams {
		c.Info.CameraID = int32(i)
		s.devices = append(s.devices, newDevice(c))
	}
	return s
}

func newDevice(c Camera) *device {
	d := &device{
		spec:    c,
		values:  make(map[svb.ControlType]svb.ControlValue),
		trigger: make(chan struct{}, 1),
	}
	d.reset()
	return d
}

func (d *device) reset() {
	for _, cc := range d.spec.Controls {
		d.values[cc.Type] = svb.ControlValue{Value: cc.Default}
	}
	p := d.spec.Property
	d.roi = svb.ROI{Width: p.MaxWidth, Height: p.MaxHeight, Bin: 1}
	d.imgType = svb.ImageRaw16
	if len(p.SupportedFormats) > 0 && !p.SupportsFormat(d.imgType) {
		d.imgType = p.SupportedFormats[0]
	}
	d.mode = svb.ModeNormal
}

func (d *device) caps(ctrl svb.ControlType) (svb.ControlCaps, bool) {
	for _, cc := range d.spec.Controls {
		if cc.Type == ctrl {
			return cc, true
		}
	}
	return svb.ControlCaps{}, false
}

func (d *device) interval() time.Duration {
	if d.spec.FrameInterval > 0 {
		return d.spec.FrameInterval
	}
	return time.Duration(d.values[svb.Exposure].Value) * time.Microsecond
}

// Calls returns how many times the named SDK method has been invoked.
func (s *SDK) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of SDK calls of any kind.
func (s *SDK) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// LastWaitMs returns the timeout passed to the most recent VideoData call.
func (s *SDK) LastWaitMs(id int32) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.lookup(id); d != nil {
		return d.lastWait
	}
	return 0
}

// ResetCalls clears all call counters.
func (s *SDK) ResetCalls() {
	s.mu.Lock()
	s.calls = make(map[string]int)
	s.mu.Unlock()
}

// Unplug marks a camera as removed. Subsequent calls for it fail with
// svb.ErrCameraRemoved and a blocked VideoData returns immediately.
func (s *SDK) Unplug(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.lookup(id); d != nil {
		d.removed = true
		if d.capturing {
			close(d.stop)
			d.capturing = false
		}
	}
}

// Capturing reports whether StartCapture is in effect for id.
func (s *SDK) Capturing(id int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.lookup(id)
	return d != nil && d.capturing
}

// IsOpen reports whether id is currently open.
func (s *SDK) IsOpen(id int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.lookup(id)
	return d != nil && d.open
}

func (s *SDK) lookup(id int32) *device {
	if id < 0 || int(id) >= len(s.devices) {
		return nil
	}
	return s.devices[id]
}

// enter records the call and returns the open device for id. The caller must
// hold s.mu.
func (s *SDK) enter(method string, id int32) (*device, error) {
	s.calls[method]++
	if err := s.faults.take(method); err != nil {
		return nil, err
	}
	d := s.lookup(id)
	switch {
	case d == nil:
		return nil, svb.ErrInvalidID
	case d.removed:
		return nil, svb.ErrCameraRemoved
	case !d.open && method != "Open":
		return nil, svb.ErrCameraClosed
	}
	return d, nil
}

func (s *SDK) NumCameras() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["NumCameras"]++
	n := 0
	for _, d := range s.devices {
		if !d.removed {
			n++
		}
	}
	return n
}

func (s *SDK) CameraInfo(index int) (svb.CameraInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["CameraInfo"]++
	i := 0
	for _, d := range s.devices {
		if d.removed {
			continue
		}
		if i == index {
			return d.spec.Info, nil
		}
		i++
	}
	return svb.CameraInfo{}, svb.ErrInvalidIndex
}

func (s *SDK) Version() string {
	return "sim-1.0"
}

func (s *SDK) Open(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("Open", id)
	if err != nil {
		return err
	}
	d.open = true
	return nil
}

func (s *SDK) Close(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Close"]++
	d := s.lookup(id)
	if d == nil {
		return svb.ErrInvalidID
	}
	if d.capturing {
		close(d.stop)
		d.capturing = false
	}
	d.open = false
	return nil
}

func (s *SDK) Property(id int32) (svb.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("Property", id)
	if err != nil {
		return svb.Property{}, err
	}
	p := d.spec.Property
	p.SupportedBins = append([]int32(nil), p.SupportedBins...)
	p.SupportedFormats = append([]svb.ImageType(nil), p.SupportedFormats...)
	return p, nil
}

func (s *SDK) PixelSize(id int32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("PixelSize", id)
	if err != nil {
		return 0, err
	}
	return d.spec.PixelSize, nil
}

func (s *SDK) SupportsTemperatureControl(id int32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("SupportsTemperatureControl", id)
	if err != nil {
		return false, err
	}
	return d.spec.TempCtrl, nil
}

func (s *SDK) NumControls(id int32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("NumControls", id)
	if err != nil {
		return 0, err
	}
	return len(d.spec.Controls), nil
}

func (s *SDK) ControlCaps(id int32, index int) (svb.ControlCaps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("ControlCaps", id)
	if err != nil {
		return svb.ControlCaps{}, err
	}
	if err := s.faults.takeIndex(index); err != nil {
		return svb.ControlCaps{}, err
	}
	if index < 0 || index >= len(d.spec.Controls) {
		return svb.ControlCaps{}, svb.ErrInvalidControlType
	}
	return d.spec.Controls[index], nil
}

func (s *SDK) ControlValue(id int32, ctrl svb.ControlType) (svb.ControlValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("ControlValue", id)
	if err != nil {
		return svb.ControlValue{}, err
	}
	if _, ok := d.caps(ctrl); !ok {
		return svb.ControlValue{}, svb.ErrInvalidControlType
	}
	return d.values[ctrl], nil
}

func (s *SDK) SetControlValue(id int32, ctrl svb.ControlType, value int32, auto bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("SetControlValue", id)
	if err != nil {
		return err
	}
	if err := s.faults.takeControl(ctrl); err != nil {
		return err
	}
	cc, ok := d.caps(ctrl)
	if !ok || !cc.Writable {
		return svb.ErrInvalidControlType
	}
	if auto && !cc.AutoSupported {
		auto = false
	}
	d.values[ctrl] = svb.ControlValue{Value: cc.Clamp(value), Auto: auto}
	return nil
}

func (s *SDK) RestoreDefaults(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("RestoreDefaults", id)
	if err != nil {
		return err
	}
	if d.capturing {
		return svb.ErrVideoModeActive
	}
	d.reset()
	return nil
}

func (s *SDK) OutputImageType(id int32) (svb.ImageType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("OutputImageType", id)
	if err != nil {
		return svb.ImageTypeEnd, err
	}
	return d.imgType, nil
}

func (s *SDK) SetOutputImageType(id int32, t svb.ImageType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("SetOutputImageType", id)
	if err != nil {
		return err
	}
	if d.capturing {
		return svb.ErrVideoModeActive
	}
	if !d.spec.Property.SupportsFormat(t) {
		return svb.ErrInvalidImageType
	}
	d.imgType = t
	return nil
}

func (s *SDK) ROIFormat(id int32) (svb.ROI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("ROIFormat", id)
	if err != nil {
		return svb.ROI{}, err
	}
	return d.roi, nil
}

func (s *SDK) SetROIFormat(id int32, r svb.ROI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("SetROIFormat", id)
	if err != nil {
		return err
	}
	if d.capturing {
		return svb.ErrVideoModeActive
	}
	p := d.spec.Property
	if r.Bin < 1 || !p.SupportsBin(r.Bin) {
		return svb.ErrInvalidSize
	}
	if r.Width <= 0 || r.Height <= 0 || r.Width%8 != 0 || r.Height%2 != 0 {
		return svb.ErrInvalidSize
	}
	if r.StartX < 0 || r.StartY < 0 ||
		r.StartX+r.Width > p.MaxWidth/r.Bin || r.StartY+r.Height > p.MaxHeight/r.Bin {
		return svb.ErrOutOfBoundary
	}
	d.roi = r
	return nil
}

func (s *SDK) CameraMode(id int32) (svb.CameraMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("CameraMode", id)
	if err != nil {
		return svb.ModeNormal, err
	}
	return d.mode, nil
}

func (s *SDK) SetCameraMode(id int32, mode svb.CameraMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("SetCameraMode", id)
	if err != nil {
		return err
	}
	if mode != svb.ModeNormal && !d.spec.Property.IsTriggerable {
		return svb.ErrInvalidMode
	}
	if mode < svb.ModeNormal || mode > svb.ModeTrigLowLevel {
		return svb.ErrInvalidMode
	}
	d.mode = mode
	return nil
}

func (s *SDK) StartCapture(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("StartCapture", id)
	if err != nil {
		return err
	}
	if d.capturing {
		return svb.ErrVideoModeActive
	}
	d.capturing = true
	d.stop = make(chan struct{})
	d.next = time.Now().Add(d.interval())
	return nil
}

func (s *SDK) StopCapture(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("StopCapture", id)
	if err != nil {
		return err
	}
	if d.capturing {
		close(d.stop)
		d.capturing = false
	}
	return nil
}

// VideoData blocks until the next frame is due, the wait expires or capture
// is stopped. A stop or expiry reports svb.ErrTimeout.
func (s *SDK) VideoData(id int32, buf []byte, waitMs int32) error {
	s.mu.Lock()
	d, err := s.enter("VideoData", id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !d.capturing {
		s.mu.Unlock()
		return svb.ErrInvalidSequence
	}
	if len(buf) < d.roi.FrameSize(d.imgType) {
		s.mu.Unlock()
		return svb.ErrBufferTooSmall
	}
	d.lastWait = waitMs
	stop := d.stop
	soft := d.mode == svb.ModeTrigSoft
	due := time.Until(d.next)
	s.mu.Unlock()

	deadline := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
	defer deadline.Stop()

	var ready <-chan time.Time
	var trig <-chan struct{}
	if soft {
		trig = d.trigger
	} else {
		frame := time.NewTimer(max(due, 0))
		defer frame.Stop()
		ready = frame.C
	}

	select {
	case <-ready:
	case <-trig:
	case <-stop:
		s.mu.Lock()
		removed := d.removed
		s.mu.Unlock()
		if removed {
			return svb.ErrCameraRemoved
		}
		return svb.ErrTimeout
	case <-deadline.C:
		return svb.ErrTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d.removed {
		return svb.ErrCameraRemoved
	}
	if !d.capturing || d.stop != stop {
		return svb.ErrTimeout
	}
	if err := s.faults.takeFrame(); err != nil {
		return err
	}

	now := time.Now()
	iv := d.interval()
	if iv > 0 && now.Sub(d.next) > iv {
		d.dropped += int(now.Sub(d.next) / iv)
	}
	d.next = now.Add(iv)
	d.seq++
	fill(buf[:d.roi.FrameSize(d.imgType)], d.seq, d.values[svb.Gain].Value)
	return nil
}

func (s *SDK) DroppedFrames(id int32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("DroppedFrames", id)
	if err != nil {
		return 0, err
	}
	return d.dropped, nil
}

func (s *SDK) SendSoftTrigger(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("SendSoftTrigger", id)
	if err != nil {
		return err
	}
	if d.mode != svb.ModeTrigSoft {
		return svb.ErrInvalidMode
	}
	select {
	case d.trigger <- struct{}{}:
	default:
	}
	return nil
}

func (s *SDK) WhiteBalanceOnce(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.enter("WhiteBalanceOnce", id)
	if err != nil {
		return err
	}
	if !d.spec.Property.IsColor {
		return svb.ErrGeneral
	}
	return nil
}

// fill writes a gradient whose first eight bytes carry the frame sequence
// number so consumers can check ordering.
func fill(buf []byte, seq uint64, gain int32) {
	for i := range buf {
		buf[i] = byte(i) + byte(gain)
	}
	if len(buf) >= 8 {
		binary.LittleEndian.PutUint64(buf, seq)
	}
}

// FrameSeq extracts the sequence number written by the simulator.
func FrameSeq(buf []byte) uint64 {
	if len(buf) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(buf)
}
