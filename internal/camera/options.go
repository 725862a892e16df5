package camera

import (
	"log/slog"
	"time"

	"github.com/smazurov/svbcapture/pkg/svb"
)

// DefaultBufferCount is the number of frame buffers rotated by a run.
const DefaultBufferCount = 10

type options struct {
	logger    *slog.Logger
	buffers   int
	strict    bool
	imageType *svb.ImageType
	roi       *svb.ROI
	clock     func() time.Time
	onState   func(StateChange)
	onControl func(ControlChange)
}

func defaultOptions() options {
	return options{
		logger:  slog.New(slog.DiscardHandler),
		buffers: DefaultBufferCount,
		clock:   time.Now,
	}
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBufferCount sets how many frame buffers a run rotates through.
// Values below one are ignored.
func WithBufferCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffers = n
		}
	}
}

// WithStrictRange rejects out-of-range control writes locally.
func WithStrictRange(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithImageType selects the output image type at open.
func WithImageType(t svb.ImageType) Option {
	return func(o *options) { o.imageType = &t }
}

// WithROI applies a readout region at open.
func WithROI(r svb.ROI) Option {
	return func(o *options) { o.roi = &r }
}

// WithClock replaces time.Now for frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithStateListener receives every session state transition.
func WithStateListener(fn func(StateChange)) Option {
	return func(o *options) { o.onState = fn }
}

// WithControlListener receives every applied control value.
func WithControlListener(fn func(ControlChange)) Option {
	return func(o *options) { o.onControl = fn }
}
