package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/svbcapture/pkg/svb"
)

// Camera is an open connection to one sensor. It owns the control accessor,
// the frame dispatcher and at most one acquisition run at a time.
type Camera struct {
	sdk        svb.SDK
	id         int32
	info       svb.CameraInfo
	prop       svb.Property
	pixelSize  float32
	label      string
	controls   *Controls
	dispatcher *Dispatcher
	logger     *slog.Logger
	opts       options
	states     *stateQueue

	running atomic.Bool

	mu      sync.Mutex
	closed  bool
	roi     svb.ROI
	imgType svb.ImageType
	mode    svb.CameraMode
	run     *run
	last    *run
}

// Open connects to the camera at enumeration index and builds its
// capability table. On any failure after the device was opened it is
// closed again before returning.
func Open(sdk svb.SDK, index int, opts ...Option) (*Camera, error) {
	info, err := sdk.CameraInfo(index)
	if err != nil {
		return nil, fmt.Errorf("camera info %d: %w", index, err)
	}
	return open(sdk, info, opts)
}

// OpenSerial connects to the camera with the given serial number.
func OpenSerial(sdk svb.SDK, serial string, opts ...Option) (*Camera, error) {
	cams, err := svb.ConnectedCameras(sdk)
	if err != nil {
		return nil, err
	}
	for _, info := range cams {
		if info.SerialNumber == serial {
			return open(sdk, info, opts)
		}
	}
	return nil, fmt.Errorf("camera %q: %w", serial, svb.ErrInvalidID)
}

func open(sdk svb.SDK, info svb.CameraInfo, opts []Option) (cam *Camera, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := info.CameraID
	if err := sdk.Open(id); err != nil {
		return nil, fmt.Errorf("open %s: %w", info.FriendlyName, err)
	}
	defer func() {
		if err != nil {
			if cerr := sdk.Close(id); cerr != nil {
				err = errors.Join(err, fmt.Errorf("close after failed open: %w", cerr))
			}
		}
	}()

	label := info.SerialNumber
	if label == "" {
		label = fmt.Sprintf("camera%d", id)
	}

	c := &Camera{
		sdk:    sdk,
		id:     id,
		info:   info,
		label:  label,
		logger: o.logger.With("camera", label),
		opts:   o,
	}

	if c.prop, err = sdk.Property(id); err != nil {
		return nil, fmt.Errorf("read property: %w", err)
	}
	if c.pixelSize, err = sdk.PixelSize(id); err != nil {
		c.logger.Warn("Pixel size unavailable", "error", err)
		c.pixelSize, err = 0, nil
	}

	caps, err := BuildCapabilities(sdk, id)
	if err != nil {
		return nil, fmt.Errorf("build capability table: %w", err)
	}

	if o.imageType != nil {
		if err = c.applyImageType(*o.imageType); err != nil {
			return nil, err
		}
	}
	if c.imgType, err = sdk.OutputImageType(id); err != nil {
		return nil, fmt.Errorf("read image type: %w", err)
	}
	if o.roi != nil {
		if err = c.applyROI(*o.roi); err != nil {
			return nil, err
		}
	}
	if c.roi, err = sdk.ROIFormat(id); err != nil {
		return nil, fmt.Errorf("read roi: %w", err)
	}
	if c.mode, err = sdk.CameraMode(id); err != nil {
		c.logger.Debug("Camera mode unavailable", "error", err)
		c.mode, err = svb.ModeNormal, nil
	}

	c.controls = NewControls(sdk, id, caps,
		StrictRange(o.strict),
		ControlsLabel(label),
		ControlsLogger(c.logger.With("component", "controls")),
		OnControlChange(o.onControl),
	)
	if err = c.controls.RefreshExposure(); err != nil {
		return nil, fmt.Errorf("read exposure: %w", err)
	}
	c.dispatcher = NewDispatcher(label, c.logger.With("component", "dispatch"))
	if o.onState != nil {
		c.states = newStateQueue(o.onState)
	}

	c.logger.Info("Camera opened",
		"name", info.FriendlyName,
		"controls", caps.Len(),
		"roi", c.roi.String(),
		"image_type", c.imgType.String(),
		"exposure", c.controls.CachedExposure())
	return c, nil
}

// Close stops any active run, waits for it to finish and disconnects.
// Closing twice is a no-op.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	r := c.run
	c.mu.Unlock()

	if r != nil {
		_ = c.stopRun(r)
		<-r.done
	}
	if c.states != nil {
		c.states.close()
	}
	if err := c.sdk.Close(c.id); err != nil {
		return fmt.Errorf("close %s: %w", c.label, err)
	}
	c.logger.Info("Camera closed")
	return nil
}

// Info returns the enumeration record of the camera.
func (c *Camera) Info() svb.CameraInfo { return c.info }

// Property returns the sensor geometry captured at open.
func (c *Camera) Property() svb.Property { return c.prop }

// PixelPitch returns the pixel size in micrometres, or 0 when unknown.
func (c *Camera) PixelPitch() float32 { return c.pixelSize }

// Label is the identifier used in logs, metrics and events.
func (c *Camera) Label() string { return c.label }

// Controls returns the control accessor.
func (c *Camera) Controls() *Controls { return c.controls }

// Dispatcher returns the frame dispatcher. Register consumers on it before
// or during a run.
func (c *Camera) Dispatcher() *Dispatcher { return c.dispatcher }

// ROI returns the current readout region.
func (c *Camera) ROI() svb.ROI {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roi
}

// ImageType returns the current output image type.
func (c *Camera) ImageType() svb.ImageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imgType
}

// Mode returns the current acquisition mode.
func (c *Camera) Mode() svb.CameraMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetROI changes the readout region. It fails with ErrStreamingActive during
// a run so that frame buffers always match the geometry.
func (c *Camera) SetROI(r svb.ROI) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(); err != nil {
		return err
	}
	if err := c.applyROI(r); err != nil {
		return err
	}
	got, err := c.sdk.ROIFormat(c.id)
	if err != nil {
		return fmt.Errorf("read roi: %w", err)
	}
	c.roi = got
	c.logger.Info("ROI changed", "roi", got.String())
	return nil
}

func (c *Camera) applyROI(r svb.ROI) error {
	if r.Bin == 0 {
		r.Bin = 1
	}
	if !c.prop.SupportsBin(r.Bin) {
		return fmt.Errorf("bin %d: %w", r.Bin, ErrNotSupported)
	}
	maxW, maxH := c.prop.MaxWidth/r.Bin, c.prop.MaxHeight/r.Bin
	if r.Width <= 0 || r.Height <= 0 || r.StartX < 0 || r.StartY < 0 ||
		r.StartX+r.Width > maxW || r.StartY+r.Height > maxH {
		return fmt.Errorf("roi %s outside %dx%d at bin %d: %w", r, maxW, maxH, r.Bin, ErrOutOfRange)
	}
	if err := c.sdk.SetROIFormat(c.id, r); err != nil {
		return fmt.Errorf("set roi %s: %w", r, err)
	}
	return nil
}

// SetImageType changes the output image type. It fails with
// ErrStreamingActive during a run.
func (c *Camera) SetImageType(t svb.ImageType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(); err != nil {
		return err
	}
	if err := c.applyImageType(t); err != nil {
		return err
	}
	c.imgType = t
	c.logger.Info("Image type changed", "image_type", t.String())
	return nil
}

func (c *Camera) applyImageType(t svb.ImageType) error {
	if !c.prop.SupportsFormat(t) {
		return fmt.Errorf("image type %s: %w", t, ErrNotSupported)
	}
	if err := c.sdk.SetOutputImageType(c.id, t); err != nil {
		return fmt.Errorf("set image type %s: %w", t, err)
	}
	return nil
}

// SetMode switches between free-running and triggered acquisition.
func (c *Camera) SetMode(m svb.CameraMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(); err != nil {
		return err
	}
	if m != svb.ModeNormal && !c.prop.IsTriggerable {
		return fmt.Errorf("mode %s: %w", m, ErrNotSupported)
	}
	if err := c.sdk.SetCameraMode(c.id, m); err != nil {
		return fmt.Errorf("set mode %s: %w", m, err)
	}
	c.mode = m
	return nil
}

// SoftTrigger requests one exposure in soft-trigger mode.
func (c *Camera) SoftTrigger() error {
	if err := c.sdk.SendSoftTrigger(c.id); err != nil {
		return fmt.Errorf("soft trigger: %w", err)
	}
	return nil
}

// WhiteBalanceOnce runs one automatic white balance pass on colour sensors.
func (c *Camera) WhiteBalanceOnce() error {
	if !c.prop.IsColor {
		return fmt.Errorf("white balance: %w", ErrNotSupported)
	}
	if err := c.sdk.WhiteBalanceOnce(c.id); err != nil {
		return fmt.Errorf("white balance: %w", err)
	}
	return nil
}

// RestoreDefaults resets every control to its factory value.
func (c *Camera) RestoreDefaults() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idleLocked(); err != nil {
		return err
	}
	if err := c.sdk.RestoreDefaults(c.id); err != nil {
		return fmt.Errorf("restore defaults: %w", err)
	}
	roi, err := c.sdk.ROIFormat(c.id)
	if err != nil {
		return fmt.Errorf("read roi: %w", err)
	}
	imgType, err := c.sdk.OutputImageType(c.id)
	if err != nil {
		return fmt.Errorf("read image type: %w", err)
	}
	c.roi, c.imgType = roi, imgType
	return c.controls.RefreshExposure()
}

// DroppedFrames returns the device's dropped frame counter.
func (c *Camera) DroppedFrames() (int, error) {
	n, err := c.sdk.DroppedFrames(c.id)
	if err != nil {
		return 0, fmt.Errorf("dropped frames: %w", err)
	}
	return n, nil
}

func (c *Camera) idleLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.run != nil {
		return ErrStreamingActive
	}
	return nil
}
