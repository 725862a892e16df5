package sinks

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/smazurov/svbcapture/internal/camera"
)

// RawWriter appends frame payloads back to back, optionally as one zstd
// stream, and can keep a JSON-lines index with one Metadata record and the
// uncompressed byte offset per frame.
type RawWriter struct {
	mu     sync.Mutex
	out    io.Writer
	enc    *zstd.Encoder
	index  *json.Encoder
	closer []io.Closer
	flush  []*bufio.Writer
	offset int64
	frames uint64
	closed bool
	logger *slog.Logger
}

// RawOption configures a RawWriter.
type RawOption func(*rawOptions)

type rawOptions struct {
	compress bool
	level    zstd.EncoderLevel
	index    io.Writer
	logger   *slog.Logger
}

// Compressed wraps the output in a zstd stream.
func Compressed(level zstd.EncoderLevel) RawOption {
	return func(o *rawOptions) {
		o.compress = true
		o.level = level
	}
}

// WithIndex writes one JSON line per frame to w.
func WithIndex(w io.Writer) RawOption {
	return func(o *rawOptions) { o.index = w }
}

// WithRawLogger sets the logger.
func WithRawLogger(l *slog.Logger) RawOption {
	return func(o *rawOptions) { o.logger = l }
}

// indexRecord is one line of the index file.
type indexRecord struct {
	Metadata
	Offset int64 `json:"offset"`
}

// NewRawWriter writes frames to w. Closing the RawWriter finishes the zstd
// stream but does not close w.
func NewRawWriter(w io.Writer, opts ...RawOption) (*RawWriter, error) {
	o := rawOptions{level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(&o)
	}
	r := &RawWriter{out: w, logger: orDiscard(o.logger)}
	if o.compress {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(o.level))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		r.enc = enc
		r.out = enc
	}
	if o.index != nil {
		r.index = json.NewEncoder(o.index)
	}
	return r, nil
}

// CreateRawFile creates path (and path+".idx" when index is set) and
// returns a RawWriter that owns both files.
func CreateRawFile(path string, index bool, opts ...RawOption) (*RawWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	closers := []io.Closer{f}
	flushers := []*bufio.Writer{bw}

	if index {
		idx, err := os.Create(path + ".idx")
		if err != nil {
			f.Close()
			return nil, err
		}
		ibw := bufio.NewWriter(idx)
		closers = append(closers, idx)
		flushers = append(flushers, ibw)
		opts = append(opts, WithIndex(ibw))
	}

	r, err := NewRawWriter(bw, opts...)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	r.closer = closers
	r.flush = flushers
	r.logger.Info("Raw recording started", "path", path, "compressed", r.enc != nil, "index", index)
	return r, nil
}

// OnFrame appends the frame payload.
func (r *RawWriter) OnFrame(f camera.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}

	n, err := r.out.Write(f.Data)
	if err != nil {
		return fmt.Errorf("write frame %d: %w", f.Seq, err)
	}
	if r.index != nil {
		if err := r.index.Encode(indexRecord{Metadata: NewMetadata(f), Offset: r.offset}); err != nil {
			return fmt.Errorf("write index %d: %w", f.Seq, err)
		}
	}
	r.offset += int64(n)
	r.frames++
	return nil
}

// Stats returns frames written and uncompressed bytes.
func (r *RawWriter) Stats() (frames uint64, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames, r.offset
}

// Close finishes the stream and closes any files CreateRawFile opened.
func (r *RawWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.enc != nil {
		errs = append(errs, r.enc.Close())
	}
	for _, b := range r.flush {
		errs = append(errs, b.Flush())
	}
	for _, c := range r.closer {
		errs = append(errs, c.Close())
	}
	r.logger.Info("Raw recording closed", "frames", r.frames, "bytes", r.offset)
	return errors.Join(errs...)
}
